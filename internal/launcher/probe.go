package launcher

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// ProbeTimeout bounds a single health probe end to end.
const ProbeTimeout = 1250 * time.Millisecond

// Probe checks whether url hosts a responsive tool-invocation endpoint by
// opening a streamable-HTTP session, performing the protocol handshake, and
// listing capabilities. The session is closed regardless of outcome.
//
// Timeouts, refused connections, and handshake failures all surface as the
// returned error; callers need no finer-grained diagnosis at this layer.
func Probe(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()

	c, err := client.NewStreamableHttpClient(url)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Start(ctx); err != nil {
		return err
	}

	var initReq mcp.InitializeRequest
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "xhs-recipe-probe", Version: "1"}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		return err
	}

	if _, err := c.ListTools(ctx, mcp.ListToolsRequest{}); err != nil {
		return err
	}
	return nil
}
