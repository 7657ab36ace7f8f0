package push

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/mahaj/chat-relay/pkg/config"
)

// Open returns the gateway selected by push.mode. Gateways holding connections also
// implement io.Closer.
func Open(cfg config.Config, log *zap.Logger) (Gateway, error) {
	switch cfg.Push.Mode {
	case config.PushLog:
		return NewLogGateway(log), nil
	case config.PushKafka:
		return NewKafkaGateway(cfg.Kafka.Brokers, cfg.Kafka.PushTopic), nil
	case config.PushFCM:
		return OpenFCM(cfg.Push.FCM)
	default:
		return nil, fmt.Errorf("unknown push mode %q", cfg.Push.Mode)
	}
}

func OpenFCM(cfg config.FCMConfig) (*FCMGateway, error) {
	creds, err := LoadCredentials(cfg.CredentialsFile)
	if err != nil {
		return nil, err
	}
	return NewFCMGateway(creds, cfg.Endpoint, cfg.TokenURL, nil)
}
