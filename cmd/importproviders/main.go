// Command importproviders seeds provider records from a YAML or JSON file:
//
//	providers:
//	  - name: siliconflow
//	    provider_type: native
//	    base_url: https://api.siliconflow.cn
//	    api_keys: [sk-1, sk-2]
//	    models: [flux-dev]
package main

import (
	"context"
	"flag"
	"log"
	"strings"

	"github.com/spf13/viper"

	"github.com/ncecere/open_image_gateway/internal/app"
	"github.com/ncecere/open_image_gateway/internal/catalog"
	"github.com/ncecere/open_image_gateway/internal/config"
	"github.com/ncecere/open_image_gateway/internal/configstore"
	"github.com/ncecere/open_image_gateway/internal/models"
	"github.com/ncecere/open_image_gateway/internal/redisclient"
)

type providerEntry struct {
	Name         string   `mapstructure:"name"`
	ProviderType string   `mapstructure:"provider_type"`
	BaseURL      string   `mapstructure:"base_url"`
	APIKeys      []string `mapstructure:"api_keys"`
	Models       []string `mapstructure:"models"`
	Enabled      *bool    `mapstructure:"enabled"`
}

func main() {
	configFile := flag.String("config", "", "path to gateway config file")
	file := flag.String("file", "providers.yaml", "provider definitions (yaml or json)")
	replace := flag.Bool("replace", false, "update providers whose name already exists")
	flag.Parse()

	cfg, err := config.Load(config.Options{ConfigFile: *configFile})
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	v := viper.New()
	v.SetConfigFile(*file)
	if err := v.ReadInConfig(); err != nil {
		log.Fatalf("read %s: %v", *file, err)
	}
	var entries []providerEntry
	if err := v.UnmarshalKey("providers", &entries); err != nil {
		log.Fatalf("decode providers: %v", err)
	}

	ctx := context.Background()
	rdb := redisclient.New(cfg.Redis)
	kv, err := configstore.Open(ctx, *cfg, rdb)
	if err != nil {
		log.Fatalf("open config store: %v", err)
	}
	container, err := app.NewContainer(ctx, cfg, app.Options{KV: kv, Redis: rdb})
	if err != nil {
		log.Fatalf("build container: %v", err)
	}
	defer container.Close(ctx)

	existing, err := container.Registry.List(ctx)
	if err != nil {
		log.Fatalf("list providers: %v", err)
	}
	byName := make(map[string]models.Provider, len(existing))
	for _, p := range existing {
		byName[strings.ToLower(p.Name)] = p
	}

	for _, entry := range entries {
		ptype, ok := catalog.NormalizeProviderType(entry.ProviderType)
		if !ok {
			log.Printf("skip %s: unknown provider type %q", entry.Name, entry.ProviderType)
			continue
		}
		p := models.Provider{
			Name:    entry.Name,
			Type:    ptype,
			BaseURL: strings.TrimRight(entry.BaseURL, "/"),
			APIKeys: entry.APIKeys,
			Models:  entry.Models,
			Enabled: entry.Enabled == nil || *entry.Enabled,
		}
		if len(p.Models) == 0 {
			p.Models = catalog.DefaultModels(ptype)
		}
		if prev, found := byName[strings.ToLower(entry.Name)]; found {
			if !*replace {
				log.Printf("skip %s: already exists (%s)", entry.Name, prev.ID)
				continue
			}
			p.ID = prev.ID
			p.CreatedAt = prev.CreatedAt
		}
		saved, err := container.Registry.Save(ctx, p)
		if err != nil {
			log.Fatalf("save %s: %v", entry.Name, err)
		}
		log.Printf("imported provider %s (%s, %d models)", saved.Name, saved.ID, len(saved.Models))
	}
}
