package main

import (
	"github.com/fairwaygolf/assetsync/internal/config"
	"github.com/fairwaygolf/assetsync/internal/services"
	"github.com/spf13/cobra"
)

type classification struct {
	Input          string                  `json:"input"`
	ImageType      string                  `json:"image_type"`
	Grouping       services.FolderGrouping `json:"grouping"`
	CustomerFolder string                  `json:"customer_folder,omitempty"`
	Malformed      bool                    `json:"malformed_path"`
}

func newClassifyCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	var rulesFile string

	cmd := &cobra.Command{
		Use:   "classify <name-or-path>...",
		Short: "Show how filenames and paths are classified",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			classifier, err := services.LoadClassifier(rulesFile, cfg.CustomerFolderRoot)
			if err != nil {
				return err
			}
			out := make([]classification, 0, len(args))
			for _, in := range args {
				c := classification{
					Input:     in,
					ImageType: classifier.ClassifyImageType(in),
					Grouping:  classifier.Group(in),
					Malformed: services.IsMalformedFilePath(in),
				}
				c.CustomerFolder, _ = classifier.ExtractCustomerFolder(in)
				out = append(out, c)
			}
			if *jsonOutput {
				return writeJSON(out)
			}
			for _, c := range out {
				if err := writePlain("%s\ttype=%s\tgroup=%s\tdate=%s\n", c.Input, c.ImageType, c.Grouping.GroupKey(c.Input), c.Grouping.DateFolder); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&rulesFile, "rules", cfg.ClassifierRulesFile, "classifier rules YAML file")

	return cmd
}
