// Command inspectproviders prints the stored providers and, with -model,
// which provider a request for that model would be routed to.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"text/tabwriter"

	"github.com/ncecere/open_image_gateway/internal/app"
	"github.com/ncecere/open_image_gateway/internal/config"
	"github.com/ncecere/open_image_gateway/internal/configstore"
	"github.com/ncecere/open_image_gateway/internal/providers"
	"github.com/ncecere/open_image_gateway/internal/redisclient"
)

func main() {
	configFile := flag.String("config", "", "path to gateway config file")
	model := flag.String("model", "", "resolve the provider for this model")
	flag.Parse()

	cfg, err := config.Load(config.Options{ConfigFile: *configFile})
	if err != nil {
		log.Fatalf("load config: %v", err)
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

	list, err := container.Registry.List(ctx)
	if err != nil {
		log.Fatalf("list providers: %v", err)
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tTYPE\tENABLED\tKEYS\tMODELS\tBASE URL")
	for _, p := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%d\t%d\t%s\n", p.ID, p.Name, p.Type, p.Enabled, len(p.Keys()), len(p.Models), p.BaseURL)
	}
	_ = tw.Flush()

	if *model == "" {
		return
	}
	p, err := container.Registry.FindByModel(ctx, *model)
	if errors.Is(err, providers.ErrNoProvider) {
		fmt.Printf("\n%s: no enabled provider\n", *model)
		return
	}
	if err != nil {
		log.Fatalf("resolve %s: %v", *model, err)
	}
	how := "listed"
	if !p.HasModel(*model) {
		how = "fallback"
	}
	fmt.Printf("\n%s -> %s (%s, %s)\n", *model, p.Name, p.ID, how)
}
