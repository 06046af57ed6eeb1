package runner

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/tendant/product-detect-pipeline/internal/bridge"
	"github.com/tendant/product-detect-pipeline/internal/config"
	"github.com/tendant/product-detect-pipeline/internal/dbosruntime"
	"github.com/tendant/product-detect-pipeline/internal/kestra"
	"github.com/tendant/product-detect-pipeline/internal/recognition"
	"github.com/tendant/product-detect-pipeline/internal/recognition/gemini"
	"github.com/tendant/product-detect-pipeline/internal/recognition/openai"
	"github.com/tendant/product-detect-pipeline/internal/storage"
	"github.com/tendant/product-detect-pipeline/internal/workflows"
)

// newRecognitionEngine builds the engine named by cfg.Recognition.Provider
func newRecognitionEngine(ctx context.Context, cfg *config.Config) (recognition.Engine, error) {
	rc := cfg.Recognition
	switch rc.Provider {
	case config.ProviderGemini:
		return gemini.NewEngine(ctx, rc.Gemini.APIKey, rc.Gemini.Model)
	case config.ProviderOpenAI:
		return openai.NewEngine(rc.OpenAI.APIKey, rc.OpenAI.Model, rc.OpenAI.BaseURL)
	default:
		return nil, fmt.Errorf("unknown recognition provider %q", rc.Provider)
	}
}

// workflowEngine is a bridge engine plus its lifecycle hooks
type workflowEngine struct {
	bridge.Engine
	inputs   map[string]string
	launch   func() error
	shutdown func()
}

// newWorkflowEngine builds the engine named by cfg.Workflow.Engine. DBOS runs
// wf in-process; Kestra runs the flow remotely and receives the recognition
// credential as a flow input.
func newWorkflowEngine(ctx context.Context, cfg *config.Config, fs *storage.FilesystemStorage, results *storage.ResultStore, wf *workflows.DetectionWorkflow, logger *zap.Logger) (*workflowEngine, error) {
	wc := cfg.Workflow
	switch wc.Engine {
	case config.EngineKestra:
		client := kestra.NewClient(kestra.Config{
			BaseURL:   wc.Kestra.URL,
			UIURL:     wc.Kestra.UIURL,
			Namespace: wc.Kestra.Namespace,
			FlowID:    wc.Kestra.FlowID,
			Timeout:   wc.Timeout,
		}, logger.Named("kestra"))
		return &workflowEngine{
			Engine: client,
			inputs: map[string]string{
				cfg.Recognition.Provider + "_api_key": cfg.RecognitionAPIKey(),
			},
			launch:   func() error { return nil },
			shutdown: func() {},
		}, nil

	case config.EngineDBOS:
		detect := func(ctx context.Context, jobID, imagePath string) (string, error) {
			return wf.RunUpload(ctx, fs, jobID, imagePath)
		}
		rt, err := dbosruntime.NewRuntime(ctx, dbosruntime.Config{
			DatabaseURL:        wc.DBOS.DatabaseURL,
			QueueName:          wc.DBOS.QueueName,
			ApplicationVersion: wc.DBOS.ApplicationVersion,
			StatusURL:          cfg.HTTP.PublicURL,
		}, detect, results.Path, logger.Named("dbos"))
		if err != nil {
			return nil, err
		}
		return &workflowEngine{
			Engine: rt,
			launch: rt.Launch,
			shutdown: func() {
				if err := rt.Shutdown(shutdownTimeout); err != nil {
					logger.Warn("DBOS shutdown failed", zap.Error(err))
				}
			},
		}, nil

	default:
		return nil, fmt.Errorf("unknown workflow engine %q", wc.Engine)
	}
}
