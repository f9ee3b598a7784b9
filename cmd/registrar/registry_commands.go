package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"registrar/internal/api"
	"registrar/internal/ipc"
)

func newHostsCommand(ctx *commandContext) *cobra.Command {
	hostsCmd := &cobra.Command{
		Use:   "hosts",
		Short: "Inspect and manage host registrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return listHosts(cmd, ctx)
		},
	}

	hostsCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered hosts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return listHosts(cmd, ctx)
		},
	})

	hostsCmd.AddCommand(&cobra.Command{
		Use:   "maintenance <host> <on|off>",
		Short: "Put a host into or out of maintenance mode",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			enabled, err := parseOnOff(args[1])
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.SetMaintenance(args[0], enabled)
				if err != nil {
					return err
				}
				return printHostChange(cmd, ctx, resp.Host)
			})
		},
	})

	hostsCmd.AddCommand(&cobra.Command{
		Use:   "enable <host>",
		Short: "Activate a host and its services",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.EnableHost(args[0])
				if err != nil {
					return err
				}
				return printHostChange(cmd, ctx, resp.Host)
			})
		},
	})

	hostsCmd.AddCommand(&cobra.Command{
		Use:   "disable <host>",
		Short: "Deactivate a host and its services",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.DisableHost(args[0])
				if err != nil {
					return err
				}
				return printHostChange(cmd, ctx, resp.Host)
			})
		},
	})

	return hostsCmd
}

func listHosts(cmd *cobra.Command, ctx *commandContext) error {
	return ctx.withClient(func(client *ipc.Client) error {
		resp, err := client.Hosts()
		if err != nil {
			return err
		}
		if ctx.JSONMode() {
			return writeJSON(cmd, resp)
		}
		if len(resp.Hosts) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No hosts registered")
			return nil
		}
		fmt.Fprint(cmd.OutOrStdout(), renderTable(hostColumns, buildHostRows(resp.Hosts)))
		return nil
	})
}

var (
	hostColumns = []column{
		textCol("Host"), textCol("Node"), numberCol("Cores"), numberCol("Max Load"),
		flagCol("Online"), flagCol("Active"), flagCol("Maintenance"),
	}
	serviceColumns = []column{
		textCol("Type"), textCol("Host"), textCol("Path"), textCol("State"),
		flagCol("Online"), flagCol("Active"), flagCol("Maintenance"),
	}
)

func buildHostRows(hosts []api.Host) [][]string {
	rows := make([][]string, 0, len(hosts))
	for _, host := range hosts {
		rows = append(rows, []string{
			host.BaseURL,
			host.NodeName,
			strconv.Itoa(host.Cores),
			formatLoad(host.MaxLoad),
			yesNo(host.Online),
			yesNo(host.Active),
			yesNo(host.Maintenance),
		})
	}
	return rows
}

func printHostChange(cmd *cobra.Command, ctx *commandContext, host api.Host) error {
	if ctx.JSONMode() {
		return writeJSON(cmd, host)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Host %s: online=%s active=%s maintenance=%s\n",
		host.BaseURL, yesNo(host.Online), yesNo(host.Active), yesNo(host.Maintenance))
	return nil
}

func parseOnOff(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "on", "true", "yes", "1":
		return true, nil
	case "off", "false", "no", "0":
		return false, nil
	default:
		return false, fmt.Errorf("expected on or off, got %q", value)
	}
}

func newServicesCommand(ctx *commandContext) *cobra.Command {
	var serviceType string
	var host string

	list := func(cmd *cobra.Command, _ []string) error {
		return ctx.withClient(func(client *ipc.Client) error {
			resp, err := client.Services(serviceType, host)
			if err != nil {
				return err
			}
			if ctx.JSONMode() {
				return writeJSON(cmd, resp)
			}
			if len(resp.Services) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No services registered")
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTable(serviceColumns, buildServiceRows(resp.Services)))
			return nil
		})
	}

	servicesCmd := &cobra.Command{
		Use:   "services",
		Short: "Inspect and manage service registrations",
		RunE:  list,
	}
	servicesCmd.PersistentFlags().StringVar(&serviceType, "type", "", "Only show registrations of this service type")
	servicesCmd.PersistentFlags().StringVar(&host, "host", "", "Only show registrations on this host")

	servicesCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List service registrations",
		RunE:  list,
	})

	servicesCmd.AddCommand(&cobra.Command{
		Use:   "sanitize <type> <host>",
		Short: "Reset a service registration to NORMAL",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Sanitize(args[0], args[1])
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, resp.Service)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Service %s on %s is now %s\n",
					resp.Service.Type, resp.Service.Host, statusLabel(resp.Service.State))
				return nil
			})
		},
	})

	return servicesCmd
}

func buildServiceRows(services []api.Service) [][]string {
	rows := make([][]string, 0, len(services))
	for _, svc := range services {
		rows = append(rows, []string{
			svc.Type,
			svc.Host,
			svc.Path,
			statusLabel(svc.State),
			yesNo(svc.Online),
			yesNo(svc.Active),
			yesNo(svc.Maintenance),
		})
	}
	return rows
}

func formatLoad(value float64) string {
	return strconv.FormatFloat(value, 'f', 1, 64)
}
