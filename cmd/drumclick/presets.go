package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/accesstechnology-mike/drumclick/internal/preset"
	"github.com/spf13/cobra"
)

var presetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "Manage the saved preset playlist",
}

var presetsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List presets in playlist order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := preset.Open(cfg.PresetFile)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "#\tID\tNAME\tTEMPO\tSIGNATURE\tSUBDIVISION")
		for i, p := range store.List() {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\t%s\n", i, p.ID, p.Name, p.Config.Tempo, p.Config.Signature, p.Config.Subdivision)
		}
		return tw.Flush()
	},
}

var presetsSaveRhythm rhythmFlags

var presetsSaveCmd = &cobra.Command{
	Use:   "save <name>",
	Short: "Save a rhythm as a new preset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rc, err := presetsSaveRhythm.config()
		if err != nil {
			return err
		}
		store, err := preset.Open(cfg.PresetFile)
		if err != nil {
			return err
		}
		p, err := store.Save(args[0], rc)
		if err != nil {
			return err
		}
		fmt.Println(p.ID)
		return nil
	},
}

var presetsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a preset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := preset.Open(cfg.PresetFile)
		if err != nil {
			return err
		}
		return store.Delete(args[0])
	},
}

var presetsMoveCmd = &cobra.Command{
	Use:   "move <from> <to>",
	Short: "Move a preset to another playlist position",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		from, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("from: %w", err)
		}
		to, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("to: %w", err)
		}
		store, err := preset.Open(cfg.PresetFile)
		if err != nil {
			return err
		}
		return store.Move(from, to)
	},
}

var presetsPlayCmd = &cobra.Command{
	Use:   "play <id>",
	Short: "Play a saved preset on this device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := preset.Open(cfg.PresetFile)
		if err != nil {
			return err
		}
		p, err := store.Get(args[0])
		if err != nil {
			return err
		}
		log.Infof("Preset: %s", p.Name)
		return playLocal(cmd.Context(), p.Config, nil)
	},
}

func init() {
	presetsCmd.PersistentFlags().StringVar(&cfg.PresetFile, "file", cfg.PresetFile, "preset playlist file")
	presetsSaveRhythm.register(presetsSaveCmd)
	presetsPlayCmd.Flags().DurationVar(&playFor, "for", 0, "stop after this long (0 plays until interrupted)")

	presetsCmd.AddCommand(presetsListCmd, presetsSaveCmd, presetsDeleteCmd, presetsMoveCmd, presetsPlayCmd)
	rootCmd.AddCommand(presetsCmd)
}
