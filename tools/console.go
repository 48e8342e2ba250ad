package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"fleetcommand/pkg/types"
)

var ServerURL = "http://localhost:8080"

var client = &http.Client{Timeout: 10 * time.Second}

// --- Models ---
type StatusResponse struct {
	Tick       uint64  `json:"tick"`
	Clock      float64 `json:"clock"`
	Fleets     int     `json:"fleets"`
	Engaged    int     `json:"engagements"`
	LedgerHead string  `json:"ledger_head"`
	Driver     string  `json:"driver"`
}

type orderRequest struct {
	Type       types.OrderType       `json:"order_type"`
	Priority   types.Priority        `json:"priority"`
	Parameters types.OrderParameters `json:"parameters"`
	Target     types.OrderTarget     `json:"target"`
	Repeating  bool                  `json:"repeating,omitempty"`
}

func main() {
	if url := os.Getenv("FLEETCMD_SERVER"); url != "" {
		ServerURL = url
	}

	reader := bufio.NewReader(os.Stdin)
	fmt.Println("Fleet Command Console")
	fmt.Printf("Target Server: %s\n", ServerURL)
	fmt.Println("Type 'help' for commands.")

	for {
		fmt.Print("fleetcmd> ")
		text, err := reader.ReadString('\n')
		if err != nil {
			fmt.Println()
			return
		}
		parts := strings.Fields(text)
		if len(parts) == 0 {
			continue
		}

		switch cmd, args := parts[0], parts[1:]; cmd {
		case "status":
			doStatus()
		case "fleets":
			show(call("GET", "/api/fleets", nil))
		case "fleet":
			if len(args) < 1 {
				fmt.Println("Usage: fleet <fleet_id>")
				continue
			}
			show(call("GET", "/api/fleets/"+args[0], nil))
		case "init":
			if len(args) < 3 {
				fmt.Println("Usage: init <fleet_id> <ships> <system_id>")
				continue
			}
			doInit(args[0], args[1], args[2])
		case "move":
			if len(args) < 4 {
				fmt.Println("Usage: move <fleet_id> <x> <y> <z> [priority]")
				continue
			}
			pos, err := parseVector(args[1:4])
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				continue
			}
			doOrder(args[0], orderRequest{Type: types.OrderMoveTo, Target: types.OrderTarget{Position: &pos}}, args[4:])
		case "jump":
			if len(args) < 2 {
				fmt.Println("Usage: jump <fleet_id> <system_id> [priority]")
				continue
			}
			doOrder(args[0], orderRequest{Type: types.OrderMoveTo, Parameters: types.OrderParameters{SystemID: types.SystemID(args[1])}}, args[2:])
		case "attack", "escort":
			if len(args) < 2 {
				fmt.Printf("Usage: %s <fleet_id> <target_fleet> [priority]\n", cmd)
				continue
			}
			t := types.OrderAttack
			if cmd == "escort" {
				t = types.OrderEscort
			}
			doOrder(args[0], orderRequest{Type: t, Target: types.OrderTarget{FleetID: types.FleetID(args[1])}}, args[2:])
		case "defend", "survey", "repair":
			if len(args) < 1 {
				fmt.Printf("Usage: %s <fleet_id> [duration] [priority]\n", cmd)
				continue
			}
			req := orderRequest{Type: types.OrderType(strings.ToUpper(cmd))}
			rest := args[1:]
			if len(rest) > 0 {
				if d, err := strconv.ParseFloat(rest[0], 64); err == nil {
					req.Parameters.Duration = d
					rest = rest[1:]
				}
			}
			doOrder(args[0], req, rest)
		case "refuel":
			if len(args) < 1 {
				fmt.Println("Usage: refuel <fleet_id> [priority]")
				continue
			}
			doOrder(args[0], orderRequest{Type: types.OrderRefuel}, args[1:])
		case "resupply":
			if len(args) < 1 {
				fmt.Println("Usage: resupply <fleet_id> [priority]")
				continue
			}
			doOrder(args[0], orderRequest{Type: types.OrderResupply}, args[1:])
		case "patrol":
			if len(args) < 2 {
				fmt.Println("Usage: patrol <fleet_id> <x,y,z> [x,y,z ...]")
				continue
			}
			var wps []types.Vector3
			for _, s := range args[1:] {
				v, err := parseVector(strings.Split(s, ","))
				if err != nil {
					fmt.Printf("Error: waypoint %q: %v\n", s, err)
					wps = nil
					break
				}
				wps = append(wps, v)
			}
			if wps == nil {
				continue
			}
			doOrder(args[0], orderRequest{Type: types.OrderPatrol, Repeating: true, Parameters: types.OrderParameters{Waypoints: wps}}, nil)
		case "formation":
			if len(args) < 2 {
				fmt.Println("Usage: formation <fleet_id> <template_id>")
				continue
			}
			show(call("POST", "/api/fleets/"+args[0]+"/formation", map[string]string{"template_id": args[1]}))
		case "cancel":
			if len(args) < 2 {
				fmt.Println("Usage: cancel <fleet_id> <order_id>")
				continue
			}
			show(call("DELETE", "/api/fleets/"+args[0]+"/orders/"+args[1], nil))
		case "engage":
			if len(args) < 3 {
				fmt.Println("Usage: engage <attacker,...> <defender,...> <system_id>")
				continue
			}
			show(call("POST", "/api/engagements", map[string]any{
				"attackers": strings.Split(args[0], ","),
				"defenders": strings.Split(args[1], ","),
				"system_id": args[2],
			}))
		case "battles":
			show(call("GET", "/api/engagements", nil))
		case "end":
			if len(args) < 1 {
				fmt.Println("Usage: end <engagement_id>")
				continue
			}
			show(call("DELETE", "/api/engagements/"+args[0], nil))
		case "events":
			path := "/api/events"
			if len(args) > 0 {
				path += "?after=" + args[0]
			}
			show(call("GET", path, nil))
		case "formations":
			show(call("GET", "/api/formations", nil))
		case "help":
			printHelp()
		case "quit", "exit":
			fmt.Println("Disconnecting...")
			return
		default:
			fmt.Println("Unknown command. Type 'help' for options.")
		}
	}
}

func printHelp() {
	fmt.Println("Available Commands:")
	fmt.Println("  status                          - Server tick, clock and ledger head")
	fmt.Println("  fleets | fleet <id>             - Tactical status")
	fmt.Println("  init <id> <ships> <system>      - Bring a fleet under command")
	fmt.Println("  move <id> <x> <y> <z> [prio]    - Move within the current system")
	fmt.Println("  jump <id> <system> [prio]       - Relocate to another system")
	fmt.Println("  attack|escort <id> <target>     - Engage or escort another fleet")
	fmt.Println("  defend|survey|repair <id> [dur] - Timed orders")
	fmt.Println("  refuel|resupply <id>            - Replenish logistics")
	fmt.Println("  patrol <id> <x,y,z> ...         - Repeating patrol route")
	fmt.Println("  formation <id> <template>       - Change formation")
	fmt.Println("  formations                      - List formation templates")
	fmt.Println("  cancel <id> <order_id>          - Cancel an order")
	fmt.Println("  engage <a,..> <d,..> <system>   - Start an engagement")
	fmt.Println("  battles | end <engagement_id>   - List or end engagements")
	fmt.Println("  events [after_seq]              - Persisted event log")
	fmt.Println("  quit                            - Disconnect")
}

func call(method, path string, payload any) ([]byte, int, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ServerURL+path, body)
	if err != nil {
		return nil, 0, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	return data, resp.StatusCode, err
}

func show(data []byte, code int, err error) {
	if err != nil {
		fmt.Printf("Connection Error: %v\n", err)
		return
	}
	if code == http.StatusNoContent {
		fmt.Println("OK")
		return
	}
	var pretty bytes.Buffer
	if json.Indent(&pretty, data, "", "  ") == nil {
		data = pretty.Bytes()
	}
	if code >= 400 {
		fmt.Printf("Error %d: %s\n", code, strings.TrimSpace(string(data)))
		return
	}
	fmt.Println(string(data))
}

func doStatus() {
	data, code, err := call("GET", "/api/status", nil)
	if err != nil || code != http.StatusOK {
		show(data, code, err)
		return
	}
	var s StatusResponse
	if err := json.Unmarshal(data, &s); err != nil {
		fmt.Printf("Protocol Error: %v\n", err)
		return
	}
	head := s.LedgerHead
	if len(head) > 12 {
		head = head[:12]
	}
	fmt.Printf("Tick: %d | Clock: %.0fs | Fleets: %d | Engagements: %d | Ledger: %s | DB: %s\n",
		s.Tick, s.Clock, s.Fleets, s.Engaged, head, s.Driver)
}

func doInit(id, ships, system string) {
	n, err := strconv.Atoi(ships)
	if err != nil || n <= 0 {
		fmt.Println("Error: ships must be a positive number")
		return
	}
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("%s-%02d", id, i+1)
	}
	show(call("POST", "/api/fleets", map[string]any{
		"fleet": types.FleetSnapshot{FleetID: types.FleetID(id), ShipIDs: ids, SystemID: types.SystemID(system)},
	}))
}

func doOrder(fleetID string, req orderRequest, rest []string) {
	req.Priority = types.PriorityNormal
	if len(rest) > 0 {
		p, err := types.ParsePriority(rest[0])
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
		req.Priority = p
	}
	show(call("POST", "/api/fleets/"+fleetID+"/orders", req))
}

func parseVector(parts []string) (types.Vector3, error) {
	if len(parts) != 3 {
		return types.Vector3{}, fmt.Errorf("want 3 coordinates, got %d", len(parts))
	}
	var v [3]float64
	for i, s := range parts {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return types.Vector3{}, err
		}
		v[i] = f
	}
	return types.Vector3{X: v[0], Y: v[1], Z: v[2]}, nil
}
