/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/microsoft/dap-client/pkg/logger"
)

func NewRootCommand(log *logger.Logger) (*cobra.Command, error) {
	rootCmd := &cobra.Command{
		SilenceErrors: true,
		Use:           "dap-client",
		Short:         "Drives debug adapters over the Debug Adapter Protocol",
		Long: `Drives debug adapters over the Debug Adapter Protocol.

	The client connects to a debug adapter that is already listening, or launches one,
	runs the initialization sequence, and reports the events of the debug session.`,
		SilenceUsage:     true,
		PersistentPreRun: LogVersion(log.Logger, "Starting dap-client..."),
	}

	rootCmd.CompletionOptions.HiddenDefaultCmd = true

	log.AddLevelFlag(rootCmd.PersistentFlags())

	var err error
	var cmd *cobra.Command

	if cmd, err = NewVersionCommand(log.Logger); err != nil {
		return nil, fmt.Errorf("could not set up 'version' command: %w", err)
	} else {
		rootCmd.AddCommand(cmd)
	}

	rootCmd.AddCommand(NewRunCommand(log.Logger))

	return rootCmd, nil
}
