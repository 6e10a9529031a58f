package federated

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

var ErrExchangeFailed = errors.New("authorization code exchange failed")

// Exchanger trades an authorization code for a raw ID token.
type Exchanger interface {
	Exchange(ctx context.Context, code string) (string, error)
}

// OAuthConfig holds the client registration used by the popup code flow.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Endpoint     oauth2.Endpoint
}

// CodeExchanger performs the authorization-code exchange with Google (or
// the configured endpoint) and returns the id_token from the response.
type CodeExchanger struct {
	oauth *oauth2.Config
}

func NewCodeExchanger(cfg OAuthConfig) (*CodeExchanger, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("code exchange requires client id and secret")
	}
	endpoint := cfg.Endpoint
	if endpoint.TokenURL == "" {
		endpoint = google.Endpoint
	}
	redirect := cfg.RedirectURL
	if redirect == "" {
		// Google's popup (GIS) flow uses the "postmessage" redirect.
		redirect = "postmessage"
	}
	return &CodeExchanger{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  redirect,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     endpoint,
		},
	}, nil
}

func (e *CodeExchanger) Exchange(ctx context.Context, code string) (string, error) {
	if code == "" {
		return "", ErrExchangeFailed
	}
	tok, err := e.oauth.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}
	raw, _ := tok.Extra("id_token").(string)
	if raw == "" {
		return "", fmt.Errorf("%w: response carried no id_token", ErrExchangeFailed)
	}
	return raw, nil
}
