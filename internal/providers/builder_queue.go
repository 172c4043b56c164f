package providers

import (
	"github.com/ncecere/open_image_gateway/internal/adapters/queue"
	"github.com/ncecere/open_image_gateway/internal/models"
)

func init() {
	RegisterDefinition(Definition{
		Type:        models.ProviderQueue,
		Description: "Asynchronous submit/poll queue (fal.ai)",
		Builder:     buildQueue,
	})
}

func buildQueue(p models.Provider, env Env) (Adapter, error) {
	return queue.New(queue.Options{
		BaseURL:        p.BaseURL,
		APIKeys:        p.Keys(),
		Picker:         env.Picker,
		HTTPClient:     env.HTTPClient,
		RequestTimeout: env.Upstream.QueueSubmitTimeout,
		PollInterval:   env.Upstream.QueuePollInterval,
		PollAttempts:   env.Upstream.QueuePollAttempts,
		SubmitRetries:  env.Upstream.QueueSubmitRetries,
		OutputFormat:   env.Upstream.QueueOutputFormat,
		Logger:         env.Logger,
	})
}
