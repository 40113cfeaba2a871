// SPDX-License-Identifier: Apache-2.0
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"

	"github.com/gorilla/websocket"
	"github.com/sourcegraph/jsonrpc2"
	"github.com/tliron/commonlog"

	"probwp/internal/debugger"
	"probwp/internal/executor"
	"probwp/internal/ir"
	"probwp/internal/slicing"
	"probwp/internal/term"
	"probwp/internal/wp"
)

var listenAddr = flag.String("listen", "", "if set, serve JSON-RPC over websocket at this address instead of stdio")

func main() {
	flag.Parse()
	commonlog.Configure(1, nil)

	program, debugInfo := demoProgram()
	analysis := ir.Analyze(program)
	store := term.NewStore()
	wpEngine := wp.NewEngine(program, analysis, store, nil)
	slicer := slicing.NewEngine(program, analysis, store)

	d, err := debugger.New(context.Background(), program, analysis, debugInfo, store, wpEngine, slicer, executor.Seed{5, 9}, 10000)
	if err != nil {
		log.Println("initialize debugger:", err)
		os.Exit(1)
	}

	h := &handler{d: d}

	if *listenAddr == "" {
		runStdio(h)
		return
	}
	runWebsocket(*listenAddr, h)
}

func runStdio(h *handler) {
	stream := jsonrpc2.NewBufferedStream(stdioReadWriteCloser{}, jsonrpc2.VSCodeObjectCodec{})
	conn := jsonrpc2.NewConn(context.Background(), stream, jsonrpc2.HandlerWithError(h.handle))
	log.Println("probwp-adapter serving over stdio")
	<-conn.DisconnectNotify()
}

func runWebsocket(addr string, h *handler) {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		wsConn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade:", err)
			return
		}
		stream := jsonrpc2.NewBufferedStream(websocketReadWriteCloser{wsConn}, jsonrpc2.VSCodeObjectCodec{})
		conn := jsonrpc2.NewConn(r.Context(), stream, jsonrpc2.HandlerWithError(h.handle))
		<-conn.DisconnectNotify()
	})
	log.Println("probwp-adapter serving over websocket at", addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Println("listen:", err)
		os.Exit(1)
	}
}

// stdioReadWriteCloser combines os.Stdin/os.Stdout into the single
// io.ReadWriteCloser jsonrpc2.NewBufferedStream requires, mirroring the
// stdio transport an LSP-style server gets for free from a protocol
// library's RunStdio helper.
type stdioReadWriteCloser struct{}

func (stdioReadWriteCloser) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdioReadWriteCloser) Write(p []byte) (int, error) { return os.Stdout.Write(p) }
func (stdioReadWriteCloser) Close() error                { return nil }

// websocketReadWriteCloser adapts a single *websocket.Conn into the
// io.ReadWriteCloser jsonrpc2 expects, framing each Read/Write as one
// websocket text message — the optional browser-hosted transport named in
// SPEC_FULL §6.
type websocketReadWriteCloser struct {
	conn *websocket.Conn
}

func (w websocketReadWriteCloser) Read(p []byte) (int, error) {
	_, data, err := w.conn.ReadMessage()
	if err != nil {
		return 0, err
	}
	return copy(p, data), nil
}

func (w websocketReadWriteCloser) Write(p []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w websocketReadWriteCloser) Close() error {
	return w.conn.Close()
}
