package service

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BatFabn/WarehouseContainerManager/internal/alert"
	"github.com/BatFabn/WarehouseContainerManager/internal/classifier"
	"github.com/BatFabn/WarehouseContainerManager/internal/config"
	"github.com/BatFabn/WarehouseContainerManager/internal/distributor"
	"github.com/BatFabn/WarehouseContainerManager/internal/fusion"
	"github.com/BatFabn/WarehouseContainerManager/internal/handlers"
	"github.com/BatFabn/WarehouseContainerManager/internal/metrics"
	"github.com/BatFabn/WarehouseContainerManager/internal/registry"
	"github.com/BatFabn/WarehouseContainerManager/internal/store"
)

// Service holds all application dependencies
type Service struct {
	Config    *config.Config
	DB        *gorm.DB
	Logger    *zap.Logger
	RMQ       handlers.BrokerHealth
	Store     store.Store
	Registry  *registry.Registry
	Engine    *fusion.Engine
	Images    classifier.ImageClassifier
	Publisher distributor.Publisher
	Metrics   *metrics.Metrics
	Gatherer  prometheus.Gatherer
}

// NewEngine builds the fusion engine and the optional image classifier.
// The numeric side uses the model server when one is configured and the
// local threshold table otherwise; images is nil without an image server.
func NewEngine(cfg *config.ClassifierConfig, logger *zap.Logger) (*fusion.Engine, classifier.ImageClassifier, error) {
	var numeric fusion.NumericClassifier
	if cfg.NumericURL != "" {
		c, err := classifier.NewHTTPNumericClassifier(classifierConfig(cfg, cfg.NumericURL), logger)
		if err != nil {
			return nil, nil, fmt.Errorf("numeric classifier: %w", err)
		}
		numeric = c
		logger.Info("Using remote numeric classifier", zap.String("url", cfg.NumericURL))
	} else {
		table := classifier.DefaultThresholds()
		if cfg.ThresholdsFile != "" {
			loaded, err := classifier.LoadThresholds(cfg.ThresholdsFile)
			if err != nil {
				return nil, nil, fmt.Errorf("numeric thresholds: %w", err)
			}
			table = loaded
		}
		numeric = classifier.NewThresholdClassifier(table)
		logger.Info("Using threshold numeric classifier", zap.String("thresholds_file", cfg.ThresholdsFile))
	}

	var images classifier.ImageClassifier
	if cfg.ImageURL != "" {
		c, err := classifier.NewHTTPImageClassifier(classifierConfig(cfg, cfg.ImageURL), logger)
		if err != nil {
			return nil, nil, fmt.Errorf("image classifier: %w", err)
		}
		images = c
	} else {
		logger.Warn("IMAGE_CLASSIFIER_URL not set, requests with images will be refused")
	}

	return fusion.NewEngine(numeric), images, nil
}

func classifierConfig(cfg *config.ClassifierConfig, url string) classifier.Config {
	return classifier.Config{
		URL:            url,
		Secret:         cfg.Secret,
		TimeoutSeconds: cfg.TimeoutSeconds,
	}
}

// NewNotifier returns the e-mail notifier when SMTP is configured and a
// logging notifier otherwise
func NewNotifier(cfg *config.SMTPConfig, logger *zap.Logger) (alert.Notifier, error) {
	if !cfg.Enabled() {
		logger.Warn("SMTP_HOST not set, spoilage alerts will only be logged")
		return alert.NewLogNotifier(logger), nil
	}

	return alert.NewSMTPNotifier(alert.SMTPConfig{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Sender:   cfg.Sender,
		Password: cfg.Password,
	}, logger)
}
