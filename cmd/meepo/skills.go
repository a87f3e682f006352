package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kavymi/meepo/internal/config"
	"github.com/kavymi/meepo/internal/skillsregistry"
)

func buildSkillsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "skills",
		Short: "Manage installed skill packages",
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "meepo.yaml", "Path to YAML configuration file")

	cmd.AddCommand(
		buildSkillsListCmd(&configPath),
		buildSkillsDisableCmd(&configPath),
		buildSkillsEnableCmd(&configPath),
	)
	return cmd
}

func openSkillsRegistry(configPath string) (*skillsregistry.Registry, error) {
	skillsDir := "skills"
	if cfg, err := config.Load(configPath); err == nil && cfg.Skills.SkillsDir != "" {
		skillsDir = cfg.Skills.SkillsDir
	}
	reg := skillsregistry.New(skillsDir)
	if err := reg.Load(); err != nil {
		return nil, err
	}
	return reg, nil
}

func buildSkillsListCmd(configPath *string) *cobra.Command {
	var tag string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List installed skill packages",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := openSkillsRegistry(*configPath)
			if err != nil {
				return err
			}
			var installed []skillsregistry.InstalledSkill
			if tag != "" {
				installed = reg.SearchByTag(tag)
			} else {
				installed = reg.List()
			}
			out := cmd.OutOrStdout()
			if len(installed) == 0 {
				fmt.Fprintln(out, "no skills installed")
				return nil
			}
			for _, s := range installed {
				fmt.Fprintf(out, "%s@%s  [%s]  %s\n", s.Package.Name, s.Package.Version, s.Status, strings.Join(s.Package.Tags, ","))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&tag, "tag", "", "filter by tag")
	return cmd
}

func buildSkillsDisableCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "disable <name>",
		Short: "Disable an installed skill",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := openSkillsRegistry(*configPath)
			if err != nil {
				return err
			}
			if err := reg.Disable(args[0]); err != nil {
				return err
			}
			return reg.Save()
		},
	}
}

func buildSkillsEnableCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "enable <name>",
		Short: "Enable a disabled skill",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := openSkillsRegistry(*configPath)
			if err != nil {
				return err
			}
			if err := reg.Enable(args[0]); err != nil {
				return err
			}
			return reg.Save()
		},
	}
}
