package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/webpilot/internal/browser/emulation"
	"github.com/xkilldash9x/webpilot/internal/config"
)

func newPresetsCmd() *cobra.Command {
	var asJSON bool

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "List the device presets available to setDeviceMode",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFromContext(cmd.Context())
			if err != nil {
				return err
			}
			catalog, err := loadCatalog(cfg)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.ConfigCompatibleWithStandardLibrary.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(catalog.All())
			}
			return writePresetTable(cmd.OutOrStdout(), catalog.All())
		},
	}
	presetsCmd.Flags().BoolVar(&asJSON, "json", false, "print presets as JSON")
	return presetsCmd
}

func loadCatalog(cfg config.Interface) (*emulation.Catalog, error) {
	catalog, err := emulation.NewCatalog(emulation.PresetsFromConfig(cfg.Emulation().Presets))
	if err != nil {
		return nil, fmt.Errorf("invalid device presets: %w", err)
	}
	return catalog, nil
}

func writePresetTable(w io.Writer, presets []emulation.Preset) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tVIEWPORT\tSCALE\tMOBILE")
	for _, p := range presets {
		fmt.Fprintf(tw, "%s\t%s\t%dx%d\t%g\t%t\n", p.ID, p.Name, p.Width, p.Height, p.DeviceScaleFactor, p.Mobile)
	}
	return tw.Flush()
}
