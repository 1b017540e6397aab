package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"

	"outpost.ai/internal/protocol"
)

func main() {
	var (
		url          = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name         = flag.String("name", "bot", "client name")
		every        = flag.Duration("every", time.Second, "delay between commands")
		occupantCost = flag.Int("occupant_cost", 10, "social cost of one occupant (must match tuning)")
		events       = flag.Bool("events", true, "subscribe to the event stream")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      *name,
		Events:          *events,
		MaxQueue:        128,
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	msgs := make(chan []byte, 128)
	go func() {
		defer close(msgs)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			msgs <- msg
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	tick := time.NewTicker(*every)
	defer tick.Stop()

	var seq int
	for {
		select {
		case <-stop:
			return
		case <-tick.C:
			seq++
			q := protocol.QueryMsg{Type: protocol.TypeQuery, ProtocolVersion: protocol.Version, ID: fmt.Sprintf("Q%d", seq)}
			if err := conn.WriteJSON(q); err != nil {
				logger.Printf("send QUERY: %v", err)
				return
			}
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil {
				continue
			}
			switch base.Type {
			case protocol.TypeWelcome:
				var w protocol.WelcomeMsg
				if err := json.Unmarshal(msg, &w); err != nil {
					continue
				}
				logger.Printf("WELCOME connection=%s session=%s buildings=%d", w.ConnectionID, w.SessionID, w.Buildings)

			case protocol.TypeState:
				var st protocol.StateMsg
				if err := json.Unmarshal(msg, &st); err != nil {
					continue
				}
				cmd, ok := plan(st, *occupantCost)
				if !ok {
					continue
				}
				seq++
				cmd.Type = protocol.TypeCommand
				cmd.ProtocolVersion = protocol.Version
				cmd.ID = fmt.Sprintf("C%d", seq)
				if err := conn.WriteJSON(cmd); err != nil {
					logger.Printf("send COMMAND: %v", err)
					return
				}

			case protocol.TypeResult:
				var r protocol.ResultMsg
				if err := json.Unmarshal(msg, &r); err != nil {
					continue
				}
				if !r.OK {
					logger.Printf("RESULT ref=%s code=%s %s", r.Ref, r.Code, r.Message)
				}

			case protocol.TypeEvent:
				var ev protocol.EventMsg
				if err := json.Unmarshal(msg, &ev); err != nil {
					continue
				}
				if ev.Kind != "PRODUCTION" {
					logger.Printf("EVENT %s building=%s amount=%d stability=%d", ev.Kind, ev.BuildingID, ev.Amount, ev.Stability)
				}
			}
		}
	}
}
