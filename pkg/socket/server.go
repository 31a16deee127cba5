// Package socket serves the daemon's control protocol: one JSON Command per
// connection, answered with one JSON Response.
package socket

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/go-logr/logr"

	"github.com/openoverlayrouter/oord/pkg/lispaddr"
	"github.com/openoverlayrouter/oord/pkg/netm"
)

// Controller is the daemon side of the control protocol
type Controller interface {
	GetStatus() StatusResponse
	Interfaces() []netm.Interface
	Addresses(name string, family lispaddr.Family) []lispaddr.Address
	Gateway(name string, family lispaddr.Family) (lispaddr.Address, bool)
	BestSourceAddress(dst lispaddr.Address) (lispaddr.Address, bool)
	ReverseAddressTable() (netm.AddressTable, error)
	ReloadRoutes(table uint32, family lispaddr.Family) error
}

// Command represents a command from oorctl
type Command struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

// Response represents a response to the client
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// StatusResponse contains daemon status information
type StatusResponse struct {
	Backend    string `json:"backend"`
	Device     string `json:"device"`
	DataPlane  string `json:"data_plane"`
	Interfaces int    `json:"interfaces"`
	Up         int    `json:"up"`
	Uptime     string `json:"uptime"`
}

// GatewayResponse answers the gateway command
type GatewayResponse struct {
	Interface string `json:"interface"`
	Family    string `json:"family"`
	Gateway   string `json:"gateway"`
}

// LookupResponse answers the lookup and route-source commands
type LookupResponse struct {
	Address   string `json:"address"`
	Interface string `json:"interface,omitempty"`
	Source    string `json:"source,omitempty"`
}

// Server handles control socket communication
type Server struct {
	socketPath string
	daemon     Controller
	listener   net.Listener
	logger     logr.Logger
	wg         sync.WaitGroup
}

// NewServer creates a new control socket server
func NewServer(socketPath string, daemon Controller, logger logr.Logger) *Server {
	return &Server{
		socketPath: socketPath,
		daemon:     daemon,
		logger:     logger.WithName("socket"),
	}
}

// Start starts listening on the control socket
func (s *Server) Start() error {
	listener, err := s.createListener()
	if err != nil {
		return err
	}
	s.listener = listener

	s.logger.Info("Control socket server started", "path", s.socketPath)

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Stop stops the server and waits for the accept loop
func (s *Server) Stop() error {
	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()
	s.removeSocket()
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			// Server stopped
			return
		}
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	var cmd Command
	if err := json.NewDecoder(bufio.NewReader(conn)).Decode(&cmd); err != nil {
		s.sendError(conn, fmt.Sprintf("failed to decode command: %v", err))
		return
	}

	s.logger.V(1).Info("Received command", "command", cmd.Command, "args", cmd.Args)

	resp := s.executeCommand(cmd)
	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		s.logger.Error(err, "Failed to send response")
	}
}

func (s *Server) executeCommand(cmd Command) Response {
	switch cmd.Command {
	case "status":
		return ok(s.daemon.GetStatus())

	case "interfaces":
		return ok(s.daemon.Interfaces())

	case "addresses":
		if len(cmd.Args) == 0 {
			return fail("interface name required")
		}
		family, err := familyArg(cmd.Args, 1)
		if err != nil {
			return fail(err.Error())
		}
		addrs := s.daemon.Addresses(cmd.Args[0], family)
		out := make([]string, 0, len(addrs))
		for _, a := range addrs {
			out = append(out, a.String())
		}
		return ok(out)

	case "gateway":
		if len(cmd.Args) == 0 {
			return fail("interface name required")
		}
		family, err := familyArg(cmd.Args, 1)
		if err != nil {
			return fail(err.Error())
		}
		gw, found := s.daemon.Gateway(cmd.Args[0], family)
		if !found {
			return fail(fmt.Sprintf("no %s default gateway on %s", family, cmd.Args[0]))
		}
		return ok(GatewayResponse{Interface: cmd.Args[0], Family: family.String(), Gateway: gw.String()})

	case "lookup":
		addr, err := addressArg(cmd.Args)
		if err != nil {
			return fail(err.Error())
		}
		table, err := s.daemon.ReverseAddressTable()
		if err != nil {
			return fail(err.Error())
		}
		name, found := table.Lookup(addr)
		if !found {
			return fail(fmt.Sprintf("no interface holds %s", addr))
		}
		return ok(LookupResponse{Address: addr.String(), Interface: name})

	case "addrtable":
		table, err := s.daemon.ReverseAddressTable()
		if err != nil {
			return fail(err.Error())
		}
		return ok(table)

	case "route-source":
		addr, err := addressArg(cmd.Args)
		if err != nil {
			return fail(err.Error())
		}
		src, found := s.daemon.BestSourceAddress(addr)
		if !found {
			return fail(fmt.Sprintf("no source address towards %s", addr))
		}
		return ok(LookupResponse{Address: addr.String(), Source: src.String()})

	case "reload-routes":
		if len(cmd.Args) == 0 {
			return fail("route table required")
		}
		table, err := strconv.ParseUint(cmd.Args[0], 10, 32)
		if err != nil {
			return fail(fmt.Sprintf("invalid route table %q", cmd.Args[0]))
		}
		family, err := familyArg(cmd.Args, 1)
		if err != nil {
			return fail(err.Error())
		}
		if err := s.daemon.ReloadRoutes(uint32(table), family); err != nil {
			return fail(err.Error())
		}
		return ok(fmt.Sprintf("reloading table %d (%s)", table, family))

	default:
		return fail(fmt.Sprintf("unknown command: %s", cmd.Command))
	}
}

// familyArg reads the optional family at args[i], IPv4 when absent
func familyArg(args []string, i int) (lispaddr.Family, error) {
	if len(args) <= i {
		return lispaddr.FamilyIPv4, nil
	}
	return lispaddr.ParseFamily(args[i])
}

func addressArg(args []string) (lispaddr.Address, error) {
	if len(args) == 0 {
		return lispaddr.Address{}, fmt.Errorf("address required")
	}
	return lispaddr.Parse(args[0])
}

func ok(data interface{}) Response {
	return Response{Success: true, Data: data}
}

func fail(msg string) Response {
	return Response{Success: false, Error: msg}
}

func (s *Server) sendError(conn net.Conn, msg string) {
	json.NewEncoder(conn).Encode(fail(msg))
}
