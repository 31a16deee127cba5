package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/openoverlayrouter/oord/pkg/config"
	"github.com/openoverlayrouter/oord/pkg/lispaddr"
	"github.com/openoverlayrouter/oord/pkg/netm"
	"github.com/openoverlayrouter/oord/pkg/socket"
)

const healthEndpoint = "http://127.0.0.1:8082"

// Response is the wire form of socket.Response with undecoded data
type Response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// cli holds where oorctl talks to and where it prints
type cli struct {
	socketPath string
	healthURL  string
	out        io.Writer
}

func main() {
	c := &cli{
		socketPath: getSocketPath(),
		healthURL:  getHealthURL(),
		out:        os.Stdout,
	}
	if err := c.run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func (c *cli) run(args []string) error {
	if len(args) == 0 {
		c.printUsage()
		return fmt.Errorf("command required")
	}

	command, rest := args[0], args[1:]
	switch command {
	case "status":
		return c.cmdStatus()
	case "interfaces":
		return c.cmdInterfaces()
	case "addresses":
		return c.cmdAddresses(rest)
	case "gateway":
		return c.cmdGateway(rest)
	case "lookup":
		return c.cmdLookup("lookup", rest)
	case "addrtable":
		return c.cmdAddrTable()
	case "route-source":
		return c.cmdLookup("route-source", rest)
	case "reload-routes":
		return c.cmdReloadRoutes(rest)
	case "health":
		return c.cmdHealth()
	case "config":
		return c.cmdConfig()
	case "help", "--help", "-h":
		c.printUsage()
		return nil
	default:
		c.printUsage()
		return fmt.Errorf("unknown command: %s", command)
	}
}

func (c *cli) printUsage() {
	fmt.Fprintln(c.out, "oorctl - Control CLI for the oord daemon")
	fmt.Fprintln(c.out)
	fmt.Fprintln(c.out, "Usage:")
	fmt.Fprintln(c.out, "  oorctl <command> [args]")
	fmt.Fprintln(c.out)
	fmt.Fprintln(c.out, "Commands:")
	fmt.Fprintln(c.out, "  status                        Show daemon status")
	fmt.Fprintln(c.out, "  interfaces                    List tracked interfaces")
	fmt.Fprintln(c.out, "  addresses <iface> [4|6]       List the addresses of an interface")
	fmt.Fprintln(c.out, "  gateway <iface> [4|6]         Show the default gateway of an interface")
	fmt.Fprintln(c.out, "  lookup <address>              Find the interface holding an address")
	fmt.Fprintln(c.out, "  addrtable                     Dump the address to interface table")
	fmt.Fprintln(c.out, "  route-source <address>        Show the source address used towards a destination")
	fmt.Fprintln(c.out, "  reload-routes <table> [4|6]   Re-read a routing table")
	fmt.Fprintln(c.out, "  health                        Check daemon health")
	fmt.Fprintln(c.out, "  config                        Open config file in editor")
	fmt.Fprintln(c.out, "  help                          Show this help message")
	fmt.Fprintln(c.out)
	fmt.Fprintln(c.out, "Environment:")
	fmt.Fprintln(c.out, "  OORD_SOCKET       Control socket path")
	fmt.Fprintln(c.out, "  OORD_HEALTH       Health endpoint (default: "+healthEndpoint+")")
}

func getSocketPath() string {
	if path := os.Getenv("OORD_SOCKET"); path != "" {
		return path
	}
	return config.Default().Server.SocketPath
}

func getHealthURL() string {
	if url := os.Getenv("OORD_HEALTH"); url != "" {
		return url
	}
	return healthEndpoint
}

func (c *cli) sendCommand(cmd socket.Command) (*Response, error) {
	conn, err := dialSocket(c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon: %w\nIs oord running?", err)
	}
	defer conn.Close()

	if err := json.NewEncoder(conn).Encode(cmd); err != nil {
		return nil, fmt.Errorf("failed to send command: %w", err)
	}

	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return &resp, nil
}

// call sends cmd and decodes the data of a successful response into v
func (c *cli) call(cmd socket.Command, v interface{}) error {
	resp, err := c.sendCommand(cmd)
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("%s", resp.Error)
	}
	if v == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Data, v); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func (c *cli) cmdStatus() error {
	var status socket.StatusResponse
	if err := c.call(socket.Command{Command: "status"}, &status); err != nil {
		return err
	}

	fmt.Fprintln(c.out, "oord Daemon Status")
	fmt.Fprintln(c.out)
	fmt.Fprintf(c.out, "  Backend:      %s\n", status.Backend)
	fmt.Fprintf(c.out, "  Device:       %s\n", status.Device)
	fmt.Fprintf(c.out, "  Data plane:   %s\n", status.DataPlane)
	fmt.Fprintf(c.out, "  Interfaces:   %d (%d up)\n", status.Interfaces, status.Up)
	if status.Uptime != "" {
		fmt.Fprintf(c.out, "  Uptime:       %s\n", status.Uptime)
	}
	return nil
}

func (c *cli) cmdInterfaces() error {
	var list []netm.Interface
	if err := c.call(socket.Command{Command: "interfaces"}, &list); err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(c.out, "No interfaces tracked.")
		return nil
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tINDEX\tSTATUS\tIPV4\tIPV6\tGATEWAY")
	for _, iface := range list {
		gw := iface.GW4.String()
		if gw == "" {
			gw = iface.GW6.String()
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\n",
			iface.Name, iface.Index, iface.Status, first(iface.IPv4), first(iface.IPv6), orDash(gw))
	}
	return w.Flush()
}

func (c *cli) cmdAddresses(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: oorctl addresses <iface> [4|6]")
	}
	var addrs []string
	if err := c.call(socket.Command{Command: "addresses", Args: args}, &addrs); err != nil {
		return err
	}
	if len(addrs) == 0 {
		fmt.Fprintln(c.out, "No addresses.")
		return nil
	}
	for _, a := range addrs {
		fmt.Fprintln(c.out, a)
	}
	return nil
}

func (c *cli) cmdGateway(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: oorctl gateway <iface> [4|6]")
	}
	var gw socket.GatewayResponse
	if err := c.call(socket.Command{Command: "gateway", Args: args}, &gw); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s %s via %s\n", gw.Interface, gw.Family, gw.Gateway)
	return nil
}

func (c *cli) cmdLookup(command string, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: oorctl %s <address>", command)
	}
	var res socket.LookupResponse
	if err := c.call(socket.Command{Command: command, Args: args}, &res); err != nil {
		return err
	}
	if res.Interface != "" {
		fmt.Fprintf(c.out, "%s is on %s\n", res.Address, res.Interface)
	} else {
		fmt.Fprintf(c.out, "%s from %s\n", res.Address, res.Source)
	}
	return nil
}

func (c *cli) cmdAddrTable() error {
	var table map[string]string
	if err := c.call(socket.Command{Command: "addrtable"}, &table); err != nil {
		return err
	}

	addrs := make([]string, 0, len(table))
	for a := range table {
		addrs = append(addrs, a)
	}
	sort.Strings(addrs)

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tINTERFACE")
	for _, a := range addrs {
		fmt.Fprintf(w, "%s\t%s\n", a, table[a])
	}
	return w.Flush()
}

func (c *cli) cmdReloadRoutes(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: oorctl reload-routes <table> [4|6]")
	}
	var msg string
	if err := c.call(socket.Command{Command: "reload-routes", Args: args}, &msg); err != nil {
		return err
	}
	fmt.Fprintln(c.out, msg)
	return nil
}

func (c *cli) cmdHealth() error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(c.healthURL + "/status")
	if err != nil {
		return fmt.Errorf("failed to connect to health endpoint: %w\nIs oord running?", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	fmt.Fprintln(c.out, "Daemon Health")
	fmt.Fprintln(c.out)

	var pretty map[string]interface{}
	if err := json.Unmarshal(body, &pretty); err == nil {
		out, _ := json.MarshalIndent(pretty, "  ", "  ")
		fmt.Fprintln(c.out, "  "+string(out))
	} else {
		fmt.Fprintln(c.out, string(body))
	}
	return nil
}

func (c *cli) cmdConfig() error {
	configPath := config.DefaultPath
	if path := os.Getenv("OORD_CONFIG"); path != "" {
		configPath = path
	}
	if _, err := os.Stat(configPath); err != nil {
		return fmt.Errorf("config file not found: %s", configPath)
	}
	return openEditor(configPath)
}

func first(addrs []lispaddr.Address) string {
	if len(addrs) == 0 {
		return "-"
	}
	return addrs[0].String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
