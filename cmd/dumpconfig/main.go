// Command dumpconfig prints the effective file/env configuration and, with
// -settings, the runtime settings held in the config store. Secrets are masked.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"

	"github.com/ncecere/open_image_gateway/internal/config"
	"github.com/ncecere/open_image_gateway/internal/configstore"
	"github.com/ncecere/open_image_gateway/internal/redisclient"
)

const masked = "********"

func main() {
	configFile := flag.String("config", "", "path to gateway config file")
	withSettings := flag.Bool("settings", false, "include runtime settings from the config store")
	flag.Parse()

	cfg, err := config.Load(config.Options{ConfigFile: *configFile})
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	out := map[string]any{"config": redactConfig(*cfg)}
	if *withSettings {
		ctx := context.Background()
		kv, err := configstore.Open(ctx, *cfg, redisclient.New(cfg.Redis))
		if err != nil {
			log.Fatalf("open config store: %v", err)
		}
		defer kv.Close()
		settings := configstore.NewSettings(kv, configstore.DefaultsFromConfig(*cfg))
		sys, err := settings.System(ctx)
		if err != nil {
			log.Fatalf("load system settings: %v", err)
		}
		sys.APIKey = mask(sys.APIKey)
		hosting, err := settings.Hosting(ctx)
		if err != nil {
			log.Fatalf("load hosting settings: %v", err)
		}
		hosting.Password, hosting.Token, hosting.SecretKey = mask(hosting.Password), mask(hosting.Token), mask(hosting.SecretKey)
		perms, err := settings.Permissions(ctx)
		if err != nil {
			log.Fatalf("load permissions: %v", err)
		}
		out["status"] = settings.Status(ctx)
		out["system"] = sys
		out["image_hosting"] = hosting
		out["permissions"] = perms
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		log.Fatalf("encode: %v", err)
	}
}

func redactConfig(cfg config.Config) config.Config {
	cfg.Store.Postgres.URL = mask(cfg.Store.Postgres.URL)
	cfg.Redis.URL = mask(cfg.Redis.URL)
	cfg.Admin.Session.JWTSecret = mask(cfg.Admin.Session.JWTSecret)
	cfg.Bootstrap.AdminPassword = mask(cfg.Bootstrap.AdminPassword)
	cfg.Bootstrap.APIKey = mask(cfg.Bootstrap.APIKey)
	return cfg
}

func mask(v string) string {
	if v == "" {
		return ""
	}
	return masked
}
