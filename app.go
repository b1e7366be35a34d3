package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/crandmck/trustmark/config"
	"github.com/crandmck/trustmark/ecc"
	"github.com/crandmck/trustmark/imagesource"
	"github.com/crandmck/trustmark/inference"
	"github.com/crandmck/trustmark/inference/fallback"
	"github.com/crandmck/trustmark/modelstore"
	"github.com/crandmck/trustmark/service"
)

// app 解码流程及其依赖
type app struct {
	store    *modelstore.Store
	registry *inference.Registry
	pipeline *service.Pipeline
}

func newApp(cfg *config.Config) (*app, error) {
	imageDecoder, err := imagesource.NewDecoder(cfg.Decode.ImageBackend)
	if err != nil {
		return nil, err
	}
	loader := imagesource.NewLoader(imageDecoder, cfg.Upload.FetchTimeout, cfg.Upload.MaxSize)

	store := modelstore.NewStore(cfg.Models.CacheDir)
	store.Checksums = cfg.Models.Checksums()
	backends := inference.Backends{
		"onnx": inference.NewONNXLoader(store, cfg.Models.ORTLibraryPath, cfg.Models.IntraOpThreads),
		"native": inference.LoaderFunc(func(ctx context.Context, spec inference.ModelSpec) (inference.Runner, error) {
			if spec.Name != "resizer" {
				return nil, fmt.Errorf("native backend cannot run model %q", spec.Name)
			}
			return fallback.NewResizer(), nil
		}),
	}

	registry := inference.NewRegistry(backends,
		inference.ModelSpec{
			Name:    "resizer",
			Backend: cfg.Models.ResizeBackend,
			Source:  cfg.Models.ResizerSource(),
			Inputs:  []string{inference.ResizeInput, inference.ResizeScales, inference.ResizeTargetSize},
			Outputs: []string{inference.ResizeOutput},
		},
		inference.ModelSpec{
			Name:    "decoder",
			Backend: "onnx",
			Source:  cfg.Models.DecoderSource(),
			Inputs:  []string{inference.DecodeInput},
			Outputs: []string{inference.DecodeOutput},
		},
	)

	pipeline := service.NewPipeline(&cfg.Decode, registry, loader, ecc.NewDataLayer(cfg.Models.Variant))

	return &app{
		store:    store,
		registry: registry,
		pipeline: pipeline,
	}, nil
}

func (a *app) Close() error {
	return errors.Join(a.registry.Close(), a.store.Close())
}
