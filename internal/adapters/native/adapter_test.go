package native

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ncecere/open_image_gateway/internal/models"
)

func TestBuildRequestShapes(t *testing.T) {
	a, err := New(Options{APIKeys: []string{"k"}})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	url, body := a.BuildRequest(KolorsModel, "p", models.GenerationOptions{Size: "768x1024"})
	if url != DefaultBaseURL+"/v1/images/generations" || body["batch_size"] != 1 || body["guidance_scale"] != 7.5 {
		t.Fatalf("kolors: %s %+v", url, body)
	}

	url, body = a.BuildRequest("black-forest-labs/FLUX.1-schnell", "p", models.GenerationOptions{})
	if url != DefaultBaseURL+"/v1/image/generations" || body["prompt_enhancement"] != true || body["image_size"] != "1024x1024" {
		t.Fatalf("flux: %s %+v", url, body)
	}

	url, body = a.BuildRequest("stabilityai/stable-diffusion-3-5-large", "p", models.GenerationOptions{})
	if url != DefaultBaseURL+"/v1/stabilityai/stable-diffusion-3-5-large/text-to-image" {
		t.Fatalf("generic url %s", url)
	}
	if _, ok := body["model"]; ok {
		t.Fatalf("generic shape keys the model in the path only: %+v", body)
	}
}

func TestGenerate(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"images":[{"url":"https://sf/out.png"}],"seed":5}`))
	}))
	defer srv.Close()

	a, _ := New(Options{BaseURL: srv.URL, APIKeys: []string{"key"}, HTTPClient: srv.Client()})
	seed := int64(5)
	images, err := a.Generate(context.Background(), "flux-dev", "a dog", models.GenerationOptions{Size: "512x512", Seed: &seed})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(images) != 1 || images[0].Payload != "https://sf/out.png" || images[0].Seed == nil {
		t.Fatalf("unexpected images %+v", images)
	}
	if gotAuth != "Bearer key" || gotBody["seed"] != float64(5) || gotBody["prompt"] != "a dog" {
		t.Fatalf("auth=%q body=%+v", gotAuth, gotBody)
	}
}

func TestGenerateErrors(t *testing.T) {
	cases := map[string]struct {
		status int
		body   string
		want   string
	}{
		"status":   {http.StatusBadRequest, `{"message":"invalid size"}`, "invalid size"},
		"no image": {http.StatusOK, `{"images":[]}`, "no image"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			a, _ := New(Options{BaseURL: srv.URL, APIKeys: []string{"k"}, HTTPClient: srv.Client()})
			images, err := a.Generate(context.Background(), "m", "p", models.GenerationOptions{})
			var genErr *models.GenerationError
			if !errors.As(err, &genErr) || images != nil {
				t.Fatalf("expected GenerationError, got %v %v", images, err)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}
