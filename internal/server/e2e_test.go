package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/mediator-broker/pkg/agent"
	"github.com/morezero/mediator-broker/pkg/broker"
	"github.com/morezero/mediator-broker/pkg/commsutil"
	"github.com/morezero/mediator-broker/pkg/envelope"
	"github.com/morezero/mediator-broker/pkg/events"
	"github.com/morezero/mediator-broker/pkg/registry"
	"github.com/morezero/mediator-broker/pkg/transport"
)

const e2eTestPrefix = "server:e2e_test"

// e2eEnv is a broker publishing events to an embedded NATS server.
type e2eEnv struct {
	nc         *comms.Conn
	broker     *broker.Broker
	brokerAddr string
	registered chan *comms.Msg
	timedOut   chan *comms.Msg
}

func setupE2E(t *testing.T, requestTimeout time.Duration) *e2eEnv {
	t.Helper()

	ns, err := commsserver.NewServer(&commsserver.Options{
		Host:   "127.0.0.1",
		Port:   commsserver.RANDOM_PORT,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		t.Fatalf("%s - failed to create NATS server: %v", e2eTestPrefix, err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatalf("%s - NATS server failed to start", e2eTestPrefix)
	}

	nc, err := commsutil.Connect(ns.ClientURL(), "mediator-broker-e2e")
	if err != nil {
		ns.Shutdown()
		t.Fatalf("%s - failed to connect: %v", e2eTestPrefix, err)
	}

	env := &e2eEnv{
		nc:         nc,
		registered: make(chan *comms.Msg, 64),
		timedOut:   make(chan *comms.Msg, 64),
	}
	if _, err := nc.ChanSubscribe(commsutil.SubjectNodeRegistered, env.registered); err != nil {
		t.Fatalf("%s - subscribe registered: %v", e2eTestPrefix, err)
	}
	if _, err := nc.ChanSubscribe(commsutil.SubjectCallTimedOut, env.timedOut); err != nil {
		t.Fatalf("%s - subscribe timeout: %v", e2eTestPrefix, err)
	}
	if err := nc.Flush(); err != nil {
		t.Fatalf("%s - flush: %v", e2eTestPrefix, err)
	}

	publisher := events.NewCommsPublisher(nc, nil)
	reg, err := registry.NewRegistry(registry.NewRegistryParams{Publisher: publisher})
	if err != nil {
		t.Fatalf("%s - NewRegistry failed: %v", e2eTestPrefix, err)
	}
	b, err := broker.New(broker.Params{Registry: reg, Publisher: publisher, RequestTimeout: requestTimeout})
	if err != nil {
		t.Fatalf("%s - broker.New failed: %v", e2eTestPrefix, err)
	}
	conn, err := transport.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("%s - Listen failed: %v", e2eTestPrefix, err)
	}
	env.broker = b
	env.brokerAddr = conn.LocalAddr().String()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Serve(ctx, conn) }()

	t.Cleanup(func() {
		cancel()
		<-done
		nc.Close()
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return env
}

// startSampleNode runs an agent with the sample handlers until cleanup.
func (e *e2eEnv) startSampleNode(t *testing.T, name string) {
	t.Helper()
	node, err := newAgent(testAgentConfig(e.brokerAddr, name))
	if err != nil {
		t.Fatalf("%s - newAgent failed: %v", e2eTestPrefix, err)
	}
	if err := bindSampleHandlers(node, name); err != nil {
		t.Fatalf("%s - bindSampleHandlers failed: %v", e2eTestPrefix, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- withAgent(ctx, node, "127.0.0.1:0", func(ctx context.Context) error {
			<-ctx.Done()
			return nil
		})
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func awaitEvent[T any](t *testing.T, ch <-chan *comms.Msg, match func(*T) bool) *T {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case msg := <-ch:
			var ev T
			if err := json.Unmarshal(msg.Data, &ev); err != nil {
				t.Fatalf("%s - decode event: %v", e2eTestPrefix, err)
			}
			if match(&ev) {
				return &ev
			}
		case <-timeout:
			t.Fatalf("%s - no matching event", e2eTestPrefix)
			return nil
		}
	}
}

func TestE2E_RegistrationEventsAndCall(t *testing.T) {
	env := setupE2E(t, time.Second)
	env.startSampleNode(t, "e2e-node")

	ev := awaitEvent(t, env.registered, func(ev *events.NodeRegisteredEvent) bool { return ev.TypeName == "Ping" })
	if ev.ClientName != "e2e-node" || ev.Kind != string(envelope.KindHandlerRegistration) || ev.Action != registry.ActionCreated {
		t.Errorf("%s - Ping registration event = %+v", e2eTestPrefix, ev)
	}
	awaitEvent(t, env.registered, func(ev *events.NodeRegisteredEvent) bool { return ev.TypeName == "NodeJoined" })

	caller, err := newAgent(testAgentConfig(env.brokerAddr, "e2e-caller"))
	if err != nil {
		t.Fatalf("%s - newAgent failed: %v", e2eTestPrefix, err)
	}
	err = withAgent(context.Background(), caller, "127.0.0.1:0", func(ctx context.Context) error {
		pong, err := agent.Call[Ping, Pong](ctx, caller, &Ping{Msg: "over the wire"})
		if err != nil {
			return err
		}
		if pong.Node != "e2e-node" || pong.Msg != "over the wire" {
			t.Errorf("%s - Pong = %+v", e2eTestPrefix, pong)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("%s - call failed: %v", e2eTestPrefix, err)
	}
}

func TestE2E_TimeoutEvent(t *testing.T) {
	env := setupE2E(t, 150*time.Millisecond)

	// A node that registers but never answers.
	silent, err := transport.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("%s - Listen failed: %v", e2eTestPrefix, err)
	}
	defer silent.Close()
	reg, err := envelope.NewRegistration(envelope.KindHandlerRegistration, &envelope.Registration{
		Name:                          "slow",
		RequestOrNotificationTypeName: "Slow",
		ResponseTypeName:              "SlowDone",
		CallbackHost:                  "127.0.0.1",
		CallbackPort:                  silent.LocalAddr().Port,
		ClientName:                    "silent-node",
	})
	if err != nil {
		t.Fatalf("%s - NewRegistration failed: %v", e2eTestPrefix, err)
	}
	brokerUDP, err := net.ResolveUDPAddr("udp", env.brokerAddr)
	if err != nil {
		t.Fatalf("%s - resolve broker: %v", e2eTestPrefix, err)
	}
	if err := silent.WriteEnvelope(reg, brokerUDP); err != nil {
		t.Fatalf("%s - register silent node: %v", e2eTestPrefix, err)
	}
	awaitEvent(t, env.registered, func(ev *events.NodeRegisteredEvent) bool { return ev.TypeName == "Slow" })

	caller, err := newAgent(testAgentConfig(env.brokerAddr, "e2e-caller"))
	if err != nil {
		t.Fatalf("%s - newAgent failed: %v", e2eTestPrefix, err)
	}
	err = withAgent(context.Background(), caller, "127.0.0.1:0", func(ctx context.Context) error {
		return caller.Send(ctx, "Slow", map[string]string{"job": "1"}, nil)
	})
	if !errors.Is(err, envelope.ErrTimeout) {
		t.Fatalf("%s - Send error = %v, want TIMEOUT", e2eTestPrefix, err)
	}

	ev := awaitEvent(t, env.timedOut, func(ev *events.CallTimedOutEvent) bool { return ev.TypeName == "Slow" })
	if ev.Target != silent.LocalAddr().String() {
		t.Errorf("%s - timeout target = %q, want %q", e2eTestPrefix, ev.Target, silent.LocalAddr().String())
	}
	if len(env.broker.Pending()) != 0 {
		t.Errorf("%s - pending calls left after timeout: %+v", e2eTestPrefix, env.broker.Pending())
	}
}
