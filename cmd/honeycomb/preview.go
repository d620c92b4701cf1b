// README: preview command; prints the k-ring around a coordinate as JSON.
package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"honeycomb/internal/modules/hexgrid"
	"honeycomb/internal/types"
)

func newPreviewCmd() *cobra.Command {
	var (
		lat, lng float64
		res, k   int
	)
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Print the center cell and k-ring for a coordinate",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, err := hexgrid.Preview(types.Point{Lat: lat, Lng: lng}, res, k)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().Float64Var(&lat, "lat", 0, "latitude")
	cmd.Flags().Float64Var(&lng, "lng", 0, "longitude")
	cmd.Flags().IntVar(&res, "resolution", 8, "cell resolution (7, 8 or 9)")
	cmd.Flags().IntVar(&k, "k", 1, "ring depth (1 to 3)")
	_ = cmd.MarkFlagRequired("lat")
	_ = cmd.MarkFlagRequired("lng")
	return cmd
}
