package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/crandmck/trustmark/config"
	"github.com/crandmck/trustmark/imagesource"
	"github.com/crandmck/trustmark/utils"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
)

func newDecodeCommand(configPath *string) *cobra.Command {
	var detail bool

	cmd := &cobra.Command{
		Use:   "decode <path|url>...",
		Short: "Decode watermarks from local files or URLs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.New(*configPath)
			if err := utils.InitLogger(cfg.Server.Mode); err != nil {
				return err
			}
			defer utils.Sync()

			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			if err := a.registry.Load(ctx); err != nil {
				return err
			}

			enc := jsoniter.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")

			failed := 0
			for _, arg := range args {
				src := imagesource.Source{Path: arg}
				if strings.Contains(arg, "://") || strings.HasPrefix(arg, "data:") {
					src = imagesource.Source{URL: arg}
				}

				result := a.pipeline.Decode(ctx, src)
				if result.Reason != "" {
					failed++
					fmt.Fprintf(os.Stderr, "%s: %s failed: %s\n", arg, result.Stage, result.Reason)
				}

				var out any = result.Watermark()
				if detail {
					out = result
				}
				if err := enc.Encode(out); err != nil {
					return err
				}
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d images could not be verified", failed, len(args))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&detail, "detail", false, "print the full decode result instead of the flat projection")
	return cmd
}
