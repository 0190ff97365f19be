package main

import (
	"fmt"

	"github.com/autom8ter/foreach/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func checkpointsCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoints",
		Short: "list the runs with a saved checkpoint in --checkpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := listableCheckpointer(v)
			if err != nil {
				return err
			}
			runs, err := store.Runs(cmd.Context())
			if err != nil {
				return err
			}
			for _, runID := range runs {
				token, _, err := store.LoadCheckpoint(cmd.Context(), runID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", runID, token)
			}
			return nil
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "clear <run-id>",
		Short: "remove the checkpoint of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := listableCheckpointer(v)
			if err != nil {
				return err
			}
			return store.ClearCheckpoint(cmd.Context(), args[0])
		},
	})
	return cmd
}

func listableCheckpointer(v *viper.Viper) (runLister, error) {
	location := v.GetString("checkpoint")
	if location == "" {
		return nil, errors.New(errors.Validation, "--checkpoint is required")
	}
	store, err := checkpointer(location)
	if err != nil {
		return nil, err
	}
	return store.(runLister), nil
}
