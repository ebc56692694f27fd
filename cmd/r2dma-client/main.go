// Command r2dma-client dials r2dma-server's Echo service over TCP and
// prints the round-tripped response, exercising rpc.Peer.Call end to
// end.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/rdma-go/r2dma/internal/echo"
	"github.com/rdma-go/r2dma/internal/rpc"
	"github.com/rdma-go/r2dma/internal/rpc/transport"
)

func main() {
	addr := flag.String("addr", ":7421", "Address of the r2dma-server RPC listener.")
	message := flag.String("message", "hello from r2dma-client", "Message to echo.")
	timeout := flag.Duration("timeout", time.Second, "Request timeout.")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	tcp := transport.NewTCP(0)
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn, err := tcp.Dial(ctx, *addr)
	if err != nil {
		logger.Error("dial failed", "err", err)
		os.Exit(1)
	}

	peer := rpc.NewPeer(conn, nil, logger)
	go func() {
		if err := peer.Serve(); err != nil {
			logger.Debug("peer serve exited", "err", err)
		}
	}()
	defer peer.Close()

	payload, err := rpc.MarshalPayload(echo.Request{Message: *message}, 0)
	if err != nil {
		logger.Error("marshal request failed", "err", err)
		os.Exit(1)
	}

	callCtx, callCancel := context.WithTimeout(context.Background(), *timeout)
	defer callCancel()

	resp, err := peer.Call(callCtx, "Echo/Echo", payload, 0)
	if err != nil {
		logger.Error("rpc call failed", "err", err)
		os.Exit(1)
	}

	var out echo.Response
	if err := rpc.UnmarshalPayload(resp.Payload, resp.Meta.Flags, &out); err != nil {
		logger.Error("unmarshal response failed", "err", err)
		os.Exit(1)
	}

	fmt.Println(out.Message)
}
