package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/campusauth"
)

// logNotifier hands messages to the log. Deployments put the college mail
// relay behind campusauth.Notifier instead; codes are only printed outside
// production mode.
type logNotifier struct {
	logger    *zap.Logger
	showCodes bool
}

func (n *logNotifier) SendLoginCode(_ context.Context, email, code string, ttl time.Duration) error {
	fields := []zap.Field{zap.String("email", email), zap.Duration("ttl", ttl)}
	if n.showCodes {
		fields = append(fields, zap.String("code", code))
	}
	n.logger.Info("login code issued", fields...)
	return nil
}

func (n *logNotifier) NotifyNewDevice(_ context.Context, user campusauth.UserView, ip, userAgent string) error {
	n.logger.Info("new device sign-in",
		zap.String("user_id", user.ID),
		zap.String("ip", ip),
		zap.String("user_agent", userAgent),
	)
	return nil
}
