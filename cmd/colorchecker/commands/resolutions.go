package commands

import (
	"fmt"
	"image"
	"text/tabwriter"

	"github.com/bryanchriswhite/ColorChecker/internal/capture"
	"github.com/spf13/cobra"
)

var resolutionsCmd = &cobra.Command{
	Use:   "resolutions",
	Short: "List resolutions of the capture source",
	Long: `List the resolutions the configured capture source reports and the one
that would be negotiated for the configured stream size.`,
	Example: `  colorchecker resolutions --source gstreamer`,
	RunE:    runResolutions,
}

func init() {
	rootCmd.AddCommand(resolutionsCmd)
}

func runResolutions(cmd *cobra.Command, args []string) error {
	mgr, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	mgr.Close()

	dev, err := capture.OpenDevice(capture.DeviceOptions{
		Source: cfg.Stream.Source,
		Device: cfg.Stream.Device,
		FPS:    cfg.Stream.FPS,
		Origin: image.Pt(cfg.Stream.OriginX, cfg.Stream.OriginY),
	})
	if err != nil {
		return err
	}
	defer dev.Close()

	available, err := dev.Resolutions(cmd.Context())
	if err != nil {
		return fmt.Errorf("%w: %v", capture.ErrStreamCreation, err)
	}
	chosen := capture.ChooseResolution(available, cfg.Stream.Width, cfg.Stream.Height)

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "SOURCE\t%s (%s)\n", cfg.Stream.Source, dev.Name())
	fmt.Fprintf(w, "REQUESTED\t%dx%d\n", cfg.Stream.Width, cfg.Stream.Height)
	for _, r := range available {
		mark := ""
		if r == chosen {
			mark = "  <- negotiated"
		}
		fmt.Fprintf(w, "\t%dx%d%s\n", r.Width, r.Height, mark)
	}
	if len(available) == 0 || !contains(available, chosen) {
		fmt.Fprintf(w, "NEGOTIATED\t%dx%d (fallback to request)\n", chosen.Width, chosen.Height)
	}
	return w.Flush()
}

func contains(rs []capture.Resolution, r capture.Resolution) bool {
	for _, x := range rs {
		if x == r {
			return true
		}
	}
	return false
}
