package bootstrap

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/clinic-booking-bot/internal/clinic"
	appconfig "github.com/wolfman30/clinic-booking-bot/internal/config"
	"github.com/wolfman30/clinic-booking-bot/internal/conversation"
	"github.com/wolfman30/clinic-booking-bot/internal/flowstate"
	"github.com/wolfman30/clinic-booking-bot/internal/notify"
	"github.com/wolfman30/clinic-booking-bot/pkg/logging"
)

// BuildFlowStore picks the flow state backend from FLOW_STATE_BACKEND.
func BuildFlowStore(cfg *appconfig.Config, client redis.Cmdable, awsCfg *aws.Config) (flowstate.Store, error) {
	switch cfg.FlowStateBackend {
	case "", "redis":
		if client == nil {
			return nil, fmt.Errorf("bootstrap: redis flow state selected but redis is unavailable")
		}
		return flowstate.NewRedisStore(client, cfg.FlowStateTTL), nil
	case "dynamodb":
		if awsCfg == nil {
			return nil, fmt.Errorf("bootstrap: dynamodb flow state requires AWS config")
		}
		return flowstate.NewDynamoStore(dynamodb.NewFromConfig(*awsCfg), cfg.FlowStateTable, cfg.FlowStateTTL), nil
	case "memory":
		return flowstate.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown FLOW_STATE_BACKEND %q", cfg.FlowStateBackend)
	}
}

// BuildClinicSource wraps the Postgres source in a Redis TTL cache only when
// CLINIC_CONTEXT_CACHE_TTL is positive.
func BuildClinicSource(cfg *appconfig.Config, base clinic.Source, client redis.Cmdable, logger *logging.Logger) clinic.Source {
	if cfg.ClinicContextCacheTTL <= 0 || client == nil {
		return base
	}
	logger.Info("clinic context cache enabled", "ttl", cfg.ClinicContextCacheTTL.String())
	return clinic.NewCachedSource(base, client, cfg.ClinicContextCacheTTL, logger)
}

// BuildQueue picks the inbound queue from QUEUE_BACKEND.
func BuildQueue(cfg *appconfig.Config, awsCfg *aws.Config) (conversation.Queue, error) {
	switch cfg.QueueBackend {
	case "", "memory":
		return conversation.NewMemoryQueue(256), nil
	case "sqs":
		if awsCfg == nil {
			return nil, fmt.Errorf("bootstrap: sqs queue requires AWS config")
		}
		if cfg.ConversationQueueURL == "" {
			return nil, fmt.Errorf("bootstrap: CONVERSATION_QUEUE_URL is required for the sqs queue")
		}
		return conversation.NewSQSQueue(sqs.NewFromConfig(*awsCfg), cfg.ConversationQueueURL), nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown QUEUE_BACKEND %q", cfg.QueueBackend)
	}
}

// BuildEmailSender picks the notification transport from EMAIL_PROVIDER,
// falling back to the logging stub when the chosen one is not configured.
func BuildEmailSender(cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) notify.EmailSender {
	switch cfg.EmailProvider {
	case "ses":
		if awsCfg != nil && cfg.EmailFrom != "" {
			return notify.NewSESSender(sesv2.NewFromConfig(*awsCfg), notify.SESConfig{
				FromEmail: cfg.EmailFrom,
				FromName:  cfg.EmailFromName,
			}, logger)
		}
		logger.Warn("SES email selected but not configured, using stub sender")
	case "sendgrid":
		if sender := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.EmailFrom,
			FromName:  cfg.EmailFromName,
		}, logger); sender != nil {
			return sender
		}
		logger.Warn("SendGrid email selected but SENDGRID_API_KEY is empty, using stub sender")
	}
	return notify.NewStubEmailSender(logger)
}
