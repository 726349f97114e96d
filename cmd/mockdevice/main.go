// Command mockdevice simulates a logical or physical device connecting to
// roomctl's TCP acceptor, for manual exercising of the dispatcher without
// real hardware.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"os"

	"github.com/fernhollow/roomctl/internal/protocol"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:65432", "dispatcher TCP address")
	kind := flag.String("type", "logical", "device type: logical or physical")
	name := flag.String("name", "mock-panel", "device_name for a logical device")
	numNodes := flag.Int("num-nodes", 1, "num_nodes for a multi-node logical device")
	flag.Parse()

	conn, err := net.Dial("tcp", *addr)
	if err != nil {
		log.Fatalf("dial %s: %v", *addr, err)
	}
	defer conn.Close()

	hs := protocol.Handshake{DeviceName: *name, NumNodes: *numNodes}
	switch *kind {
	case "physical":
		hs.Type = protocol.KindPhysical
	default:
		hs.Type = protocol.KindLogical
	}
	if err := writeJSON(conn, hs); err != nil {
		log.Fatalf("handshake: %v", err)
	}
	log.Printf("connected as %s device %q", hs.Type, *name)

	dec := json.NewDecoder(bufio.NewReader(conn))
	if hs.Type == protocol.KindPhysical {
		runPhysical(conn, dec)
		return
	}
	runLogical(conn, dec)
}

func runLogical(conn net.Conn, dec *json.Decoder) {
	for {
		var env protocol.Envelope
		if err := dec.Decode(&env); err != nil {
			log.Printf("disconnected: %v", err)
			return
		}
		fmt.Fprintf(os.Stdout, "received command: %+v\n", env)

		ack := protocol.Ack{Status: protocol.StatusSuccess, NodeID: env.NodeID}
		if err := writeJSON(conn, ack); err != nil {
			log.Printf("ack write failed: %v", err)
			return
		}
	}
}

func runPhysical(conn net.Conn, dec *json.Decoder) {
	for {
		var cmd protocol.PhysicalCommand
		if err := dec.Decode(&cmd); err != nil {
			log.Printf("disconnected: %v", err)
			return
		}
		fmt.Fprintf(os.Stdout, "received direct command: %+v\n", cmd)

		resp := protocol.PhysicalResponse{Status: protocol.StatusSuccess, Message: "ok"}
		if err := writeJSON(conn, resp); err != nil {
			log.Printf("response write failed: %v", err)
			return
		}
	}
}

func writeJSON(conn net.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = conn.Write(data)
	return err
}
