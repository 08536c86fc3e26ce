package service

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BatFabn/WarehouseContainerManager/internal/alert"
	"github.com/BatFabn/WarehouseContainerManager/internal/classifier"
	"github.com/BatFabn/WarehouseContainerManager/internal/config"
)

func TestNewEngineDefaults(t *testing.T) {
	engine, images, err := NewEngine(&config.ClassifierConfig{}, zap.NewNop())
	require.NoError(t, err)
	assert.NotNil(t, engine)
	assert.Nil(t, images)
}

func TestNewEngineRemoteClassifiers(t *testing.T) {
	engine, images, err := NewEngine(&config.ClassifierConfig{
		ImageURL:       "http://models.local/image",
		NumericURL:     "http://models.local/numeric",
		TimeoutSeconds: 3,
	}, zap.NewNop())
	require.NoError(t, err)
	assert.NotNil(t, engine)
	assert.IsType(t, &classifier.HTTPImageClassifier{}, images)
}

func TestNewEngineThresholdsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thresholds.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
apple:
  temperature: {early_spoilage: 10, spoiled: 20}
  humidity: {early_spoilage: 85, spoiled: 95}
  methane: {early_spoilage: 2, spoiled: 5}
`), 0o600))

	engine, _, err := NewEngine(&config.ClassifierConfig{ThresholdsFile: path}, zap.NewNop())
	require.NoError(t, err)
	assert.NotNil(t, engine)

	_, _, err = NewEngine(&config.ClassifierConfig{
		ThresholdsFile: filepath.Join(t.TempDir(), "missing.yaml"),
	}, zap.NewNop())
	assert.Error(t, err)
}

func TestNewNotifier(t *testing.T) {
	n, err := NewNotifier(&config.SMTPConfig{}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &alert.LogNotifier{}, n)

	n, err = NewNotifier(&config.SMTPConfig{
		Host:   "smtp.example.com",
		Port:   587,
		Sender: "alerts@example.com",
	}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &alert.SMTPNotifier{}, n)
}
