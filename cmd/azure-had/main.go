// Copyright 2017 Microsoft. All rights reserved.
// MIT License
package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// version is populated by make during build.
var version string

func main() {
	rootCmd := NewRootCmd()

	if version != "" {
		rootCmd.Version = version
	}

	cobra.OnInitialize(func() {
		// No prefix: FWDIR is the Check Point installation's own
		// environment variable, not one this daemon invents.
		viper.AutomaticEnv()
		for _, cmd := range rootCmd.Commands() {
			bindFlags(cmd)
		}
	})

	cobra.CheckErr(rootCmd.Execute())
}

func bindFlags(cmd *cobra.Command) {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		cobra.CheckErr(err)
	}
	cmd.Flags().VisitAll(func(flag *pflag.Flag) {
		if viper.IsSet(flag.Name) && viper.GetString(flag.Name) != "" {
			cobra.CheckErr(cmd.Flags().Set(flag.Name, viper.GetString(flag.Name)))
		}
	})
}
