package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/wfunc/auctionserver/network"
)

const usage = `commands:
  login <token>
  create [name] [private]
  join <roomID>
  leave
  list
  start <roomID>
  bid <roomID> <amount>
  quit`

// send formats and sends a message to the WebSocket server.
func send(c *websocket.Conn, msgID uint16, w *network.Writer) error {
	var data []byte
	if w != nil {
		var err error
		if data, err = w.Finish(); err != nil {
			return err
		}
	}
	packet, err := network.EncodePacket(msgID, data)
	if err != nil {
		return err
	}
	return c.WriteMessage(websocket.BinaryMessage, packet)
}

func main() {
	addr := flag.String("addr", "localhost:8080", "server address")
	token := flag.String("token", "", "login token sent on connect")
	flag.Parse()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	u := url.URL{Scheme: "ws", Host: *addr, Path: "/ws"}
	log.Printf("Connecting to %s", u.String())

	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("Dial failed: %v", err)
	}
	defer c.Close()

	done := make(chan struct{})

	// Read loop
	go func() {
		defer close(done)
		for {
			_, message, err := c.ReadMessage()
			if err != nil {
				log.Println("Read error:", err)
				return
			}
			packet, err := network.DecodePacket(message)
			if err != nil {
				log.Printf("Received invalid packet of size %d", len(message))
				continue
			}
			log.Printf("<- %s", describe(packet))
		}
	}()

	if *token != "" {
		if err := send(c, network.MsgTypeLogin, network.NewWriter().String(*token)); err != nil {
			log.Println("Write error:", err)
			return
		}
	}

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
		close(lines)
	}()

	log.Println("Client started.\n" + usage)

	heartbeat := time.NewTicker(10 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-done:
			return
		case <-heartbeat.C:
			if err := send(c, network.MsgTypeHeartbeat, nil); err != nil {
				log.Println("Write error:", err)
				return
			}
		case <-interrupt:
			log.Println("Interrupt received, closing connection.")
			closeConn(c, done)
			return
		case text, ok := <-lines:
			if !ok || text == "quit" {
				closeConn(c, done)
				return
			}
			msgID, w, err := parseCommand(text)
			if err != nil {
				log.Println(err)
				continue
			}
			if err := send(c, msgID, w); err != nil {
				log.Println("Write error:", err)
				return
			}
		}
	}
}

func closeConn(c *websocket.Conn, done <-chan struct{}) {
	err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		log.Println("Write close error:", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
	}
}

func parseCommand(text string) (uint16, *network.Writer, error) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return 0, nil, fmt.Errorf("empty command")
	}
	args := fields[1:]

	switch fields[0] {
	case "login":
		if len(args) != 1 {
			return 0, nil, fmt.Errorf("usage: login <token>")
		}
		return network.MsgTypeLogin, network.NewWriter().String(args[0]), nil
	case "create":
		name := ""
		visible := true
		if len(args) > 0 {
			name = args[0]
		}
		if len(args) > 1 && args[1] == "private" {
			visible = false
		}
		return network.MsgTypeAuctionCreate, network.NewWriter().String(name).Bool(visible), nil
	case "join", "start":
		if len(args) != 1 {
			return 0, nil, fmt.Errorf("usage: %s <roomID>", fields[0])
		}
		id, err := strconv.ParseUint(args[0], 10, 16)
		if err != nil {
			return 0, nil, fmt.Errorf("bad room id %q", args[0])
		}
		msgID := uint16(network.MsgTypeAuctionJoin)
		if fields[0] == "start" {
			msgID = network.MsgTypeAuctionStart
		}
		return msgID, network.NewWriter().Uint16(uint16(id)), nil
	case "leave":
		return network.MsgTypeAuctionLeave, nil, nil
	case "list":
		return network.MsgTypeAuctionGetOpenRooms, nil, nil
	case "bid":
		if len(args) != 2 {
			return 0, nil, fmt.Errorf("usage: bid <roomID> <amount>")
		}
		id, err := strconv.ParseUint(args[0], 10, 16)
		if err != nil {
			return 0, nil, fmt.Errorf("bad room id %q", args[0])
		}
		amount, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			return 0, nil, fmt.Errorf("bad amount %q", args[1])
		}
		return network.MsgTypeAuctionAddBid, network.NewWriter().Uint16(uint16(id)).Uint32(uint32(amount)), nil
	default:
		return 0, nil, fmt.Errorf("unknown command %q\n%s", fields[0], usage)
	}
}

func describe(p *network.Packet) string {
	r := network.NewReader(p.Data)
	switch p.MsgID {
	case network.MsgTypeLoginResponse:
		return fmt.Sprintf("login ok=%t id=%d name=%s", r.Bool(), r.Int64(), r.String())
	case network.MsgTypeNotLoggedIn:
		return fmt.Sprintf("not logged in (request %d)", r.Uint16())
	case network.MsgTypeThrottled:
		return fmt.Sprintf("throttled (request %d)", r.Uint16())
	case network.MsgTypeAuctionCreateSuccess, network.MsgTypeAuctionJoinSuccess:
		return "room " + describeRoom(r)
	case network.MsgTypeAuctionOpenRooms:
		n := int(r.Uint16())
		var b strings.Builder
		fmt.Fprintf(&b, "%d open rooms", n)
		for i := 0; i < n; i++ {
			fmt.Fprintf(&b, "\n  #%d %q members=%d started=%t", r.Uint16(), r.String(), r.Uint8(), r.Bool())
		}
		return b.String()
	case network.MsgTypeAuctionStarted:
		return fmt.Sprintf("auction started, ends %s", time.UnixMilli(r.Int64()).Format(time.TimeOnly))
	case network.MsgTypeAuctionPlayerJoined:
		return fmt.Sprintf("player %d %s joined (host=%t)", r.Int64(), r.String(), r.Bool())
	case network.MsgTypeAuctionPlayerLeft:
		return fmt.Sprintf("player %d left, host is %d (%s)", r.Int64(), r.Int64(), r.String())
	case network.MsgTypeAuctionBidPlaced:
		return fmt.Sprintf("bid #%d by %d %s: %d", r.Uint32(), r.Int64(), r.String(), r.Uint32())
	case network.MsgTypeAuctionFinished:
		return fmt.Sprintf("auction in room %d %q finished, winner %d %s at %d", r.Uint16(), r.String(), r.Int64(), r.String(), r.Uint32())
	case network.MsgTypeAuctionBidAccepted:
		return "bid accepted"
	case network.MsgTypeAuctionBidRejected:
		return "bid rejected"
	case network.MsgTypeAuctionLeaveSuccess:
		return "left room"
	case network.MsgTypeAuctionCreateFailure, network.MsgTypeAuctionJoinFailure,
		network.MsgTypeAuctionLeaveFailure, network.MsgTypeAuctionStartFailure:
		return fmt.Sprintf("message %d failed, code %d", p.MsgID, r.Uint8())
	default:
		return fmt.Sprintf("message %d (%d bytes)", p.MsgID, len(p.Data))
	}
}

func describeRoom(r *network.Reader) string {
	id := r.Uint16()
	name := r.String()
	visible := r.Bool()
	started := r.Bool()
	maxMembers := r.Uint8()
	members := r.Uint8()
	r.Int64()
	r.Uint32()
	r.Int64()
	bidder := r.String()
	amount := r.Uint32()
	payload := r.Bytes()
	return fmt.Sprintf("#%d %q visible=%t started=%t members=%d/%d highest=%d (%s) payload=%dB",
		id, name, visible, started, members, maxMembers, amount, bidder, len(payload))
}
