// Package cli wires the operator commands around the rebalancing engine:
// argument parsing, configuration, confirmation prompts and rendering.
package cli

import (
	"fmt"
	"strings"

	"github.com/mitchellh/go-homedir"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/carlosvargasvip/proxmox-scripts/internal/proxmox"
)

var cfgFile string

// NewRootCommand builds the pvebalance command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "pvebalance",
		Short: "Capacity-aware rebalancing and migration tools for a Proxmox cluster",
		Long: `pvebalance inspects the live allocation of virtual machines across a
Proxmox cluster and ships a set of migration tools around it: a
capacity-aware rebalancer, a round-robin spreader, and ISO/disk storage
movers. Run it directly on a cluster node (pvesh) or point it at the API.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cobra.OnInitialize(initConfig)

	flags := root.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default $HOME/.pvebalance.yaml)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("api-host", "https://localhost:8006", "Proxmox API host URL")
	flags.String("api-token", "", "Proxmox API token (format: user@realm!tokenid=secret)")
	flags.String("username", "", "Proxmox username (alternative to API token)")
	flags.String("password", "", "Proxmox password (alternative to API token)")

	for _, name := range []string{"log-level", "api-host", "api-token", "username", "password"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}

	root.AddCommand(
		newRebalanceCommand(),
		newStatusCommand(),
		newSpreadCommand(),
		newISOMigrateCommand(),
		newDiskMigrateCommand(),
		newHistoryCommand(),
	)

	return root
}

// initConfig reads in config file and environment variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err == nil {
			viper.AddConfigPath(home)
			viper.SetConfigName(".pvebalance")
		}
	}

	viper.SetEnvPrefix("PVEBALANCE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	// Config file is optional
	_ = viper.ReadInConfig()

	configureLogging()
}

func configureLogging() {
	level, err := log.ParseLevel(viper.GetString("log-level"))
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})
}

// newClusterClient picks the client the way an operator would: pvesh when
// running directly on a cluster node, otherwise the API with whatever
// credentials configuration provides.
func newClusterClient() (proxmox.ClusterClient, error) {
	if proxmox.IsProxmoxHost() {
		log.Debug("pvesh detected, using shell client")
		return proxmox.NewShellClient(), nil
	}

	host := viper.GetString("api-host")
	if token := viper.GetString("api-token"); token != "" {
		log.Debug("using API token authentication")
		return proxmox.NewClient(host, token), nil
	}

	username := viper.GetString("username")
	password := viper.GetString("password")
	if username == "" || password == "" {
		return nil, fmt.Errorf("no cluster access: not on a Proxmox host and no API credentials configured " +
			"(set api-token or username/password via flags, config file or PVEBALANCE_* environment)")
	}

	client := proxmox.NewClientWithCredentials(host, username, password)
	if err := client.Authenticate(); err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}
	log.Debug("using username/password authentication")
	return client, nil
}
