// Package uaclient is the protocol glue between the session registry and
// the OPC UA stack: per-session connect loops, wire subscription and
// monitored-item creation, and the notification pump feeding the
// normalization pipeline.
package uaclient

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"

	"github.com/opcbridge/opcbridge/internal/auth"
	"github.com/opcbridge/opcbridge/internal/config"
	"github.com/opcbridge/opcbridge/internal/publisher"
)

// connection wraps one live OPC UA client; it satisfies the registry's
// connection handle contract.
type connection struct {
	client *opcua.Client
}

func (c *connection) Close() error {
	return c.client.Close(context.Background())
}

// dial discovers the endpoint, applies the session's security and
// authentication settings and connects. Returns the server's application
// URI alongside the client for message stamping.
func dial(ctx context.Context, session *publisher.OpcSession, cfg config.SessionConfig, cipher *auth.Cipher) (*opcua.Client, string, error) {
	endpoints, err := opcua.GetEndpoints(ctx, session.EndpointURL)
	if err != nil {
		return nil, "", fmt.Errorf("failed to discover endpoints for %s: %w", session.EndpointURL, err)
	}

	ep := selectEndpoint(endpoints, session.UseSecurity)
	if ep == nil {
		return nil, "", fmt.Errorf("no matching endpoint on %s", session.EndpointURL)
	}
	applicationURI := ""
	if ep.Server != nil {
		applicationURI = ep.Server.ApplicationURI
	}

	tokenType := ua.UserTokenTypeAnonymous
	opts := []opcua.Option{
		opcua.ApplicationURI(cfg.ApplicationURI),
		opcua.AutoReconnect(true),
		opcua.ReconnectInterval(cfg.GetReconnectPeriod()),
		opcua.RequestTimeout(cfg.GetOperationTimeout()),
	}

	if session.AuthMode == publisher.AuthModeUsernamePassword {
		username, err := cipher.Decrypt(session.EncryptedUsername)
		if err != nil {
			return nil, "", fmt.Errorf("failed to decrypt username: %w", err)
		}
		password, err := cipher.Decrypt(session.EncryptedPassword)
		if err != nil {
			return nil, "", fmt.Errorf("failed to decrypt password: %w", err)
		}
		tokenType = ua.UserTokenTypeUserName
		opts = append(opts, opcua.AuthUsername(username, password))
	} else {
		opts = append(opts, opcua.AuthAnonymous())
	}

	opts = append(opts, opcua.SecurityFromEndpoint(ep, tokenType))
	if session.UseSecurity && cfg.CertFile != "" {
		opts = append(opts,
			opcua.CertificateFile(cfg.CertFile),
			opcua.PrivateKeyFile(cfg.KeyFile),
		)
	}

	client, err := opcua.NewClient(session.EndpointURL, opts...)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create client for %s: %w", session.EndpointURL, err)
	}
	if err := client.Connect(ctx); err != nil {
		return nil, "", fmt.Errorf("failed to connect to %s: %w", session.EndpointURL, err)
	}
	return client, applicationURI, nil
}

// selectEndpoint prefers the most secure endpoint when security is
// requested, the None endpoint otherwise.
func selectEndpoint(endpoints []*ua.EndpointDescription, useSecurity bool) *ua.EndpointDescription {
	var best *ua.EndpointDescription
	for _, ep := range endpoints {
		if !useSecurity {
			if ep.SecurityPolicyURI == ua.SecurityPolicyURINone {
				return ep
			}
			continue
		}
		if ep.SecurityPolicyURI == ua.SecurityPolicyURINone {
			continue
		}
		if best == nil || ep.SecurityLevel > best.SecurityLevel {
			best = ep
		}
	}
	if best == nil && len(endpoints) > 0 {
		best = endpoints[0]
	}
	return best
}

// namespaceResolver translates node identifiers between the NodeId and
// ExpandedNodeId text forms using a connected session's namespace table.
type namespaceResolver struct {
	namespaces []string
}

func newNamespaceResolver(ctx context.Context, client *opcua.Client) (*namespaceResolver, error) {
	namespaces, err := client.NamespaceArray(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read namespace array: %w", err)
	}
	return &namespaceResolver{namespaces: namespaces}, nil
}

// CounterpartID converts "nsu=<uri>;<id>" to "ns=<index>;<id>" and back.
func (r *namespaceResolver) CounterpartID(id string) (string, error) {
	if uri, rest, ok := splitPrefixed(id, "nsu="); ok {
		for i, ns := range r.namespaces {
			if ns == uri {
				return fmt.Sprintf("ns=%d;%s", i, rest), nil
			}
		}
		return "", fmt.Errorf("namespace uri %q not in server table", uri)
	}
	if idxText, rest, ok := splitPrefixed(id, "ns="); ok {
		idx, err := strconv.Atoi(idxText)
		if err != nil {
			return "", fmt.Errorf("invalid namespace index in %q: %w", id, err)
		}
		if idx < 0 || idx >= len(r.namespaces) {
			return "", fmt.Errorf("namespace index %d out of range", idx)
		}
		return fmt.Sprintf("nsu=%s;%s", r.namespaces[idx], rest), nil
	}
	// Namespace 0 shorthand like "i=2258".
	if len(r.namespaces) > 0 {
		return fmt.Sprintf("nsu=%s;%s", r.namespaces[0], id), nil
	}
	return "", fmt.Errorf("cannot resolve counterpart for %q", id)
}

// toWireID maps an identifier in either form to the "ns=" form the stack
// parses.
func (r *namespaceResolver) toWireID(id string) (string, error) {
	if strings.Contains(id, "nsu=") {
		return r.CounterpartID(id)
	}
	return id, nil
}

func splitPrefixed(id, prefix string) (value, rest string, ok bool) {
	if !strings.HasPrefix(id, prefix) {
		return "", "", false
	}
	value, rest, found := strings.Cut(strings.TrimPrefix(id, prefix), ";")
	if !found {
		return "", "", false
	}
	return value, rest, true
}
