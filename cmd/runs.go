package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"deepresearch/config"
	"deepresearch/internal/store"
)

func runsCMD() *cobra.Command {
	var cfgPath string
	var runs = &cobra.Command{
		Use:   "runs",
		Short: "Inspect stored research runs",
	}
	runs.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	list := &cobra.Command{
		Use:   "list",
		Short: "List stored run IDs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			s, err := store.Connect(cmd.Context(), cfg.Storage.Redis)
			if err != nil {
				return err
			}
			defer s.Close()
			ids, err := s.ListRunIDs(cmd.Context())
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Println(id)
			}
			return nil
		},
	}

	get := &cobra.Command{
		Use:   "get <run-id>",
		Short: "Print one stored run as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			s, err := store.Connect(cmd.Context(), cfg.Storage.Redis)
			if err != nil {
				return err
			}
			defer s.Close()
			rec, err := s.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rec)
		},
	}

	del := &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete one stored run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			s, err := store.Connect(cmd.Context(), cfg.Storage.Redis)
			if err != nil {
				return err
			}
			defer s.Close()
			return s.DeleteRun(cmd.Context(), args[0])
		},
	}

	runs.AddCommand(list, get, del)
	return runs
}
