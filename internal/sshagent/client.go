package sshagent

import (
	"fmt"
	"net"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// Client is a connection to an SSH agent socket.
type Client struct {
	conn  net.Conn
	agent agent.ExtendedAgent
}

// ConnectAgent connects to an SSH agent at the given socket path.
func ConnectAgent(socketPath string) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("dialing SSH agent: %w", err)
	}
	return &Client{
		conn:  conn,
		agent: agent.NewClient(conn),
	}, nil
}

// List returns all identities from the SSH agent.
func (c *Client) List() ([]*Identity, error) {
	keys, err := c.agent.List()
	if err != nil {
		return nil, fmt.Errorf("listing keys: %w", err)
	}
	identities := make([]*Identity, len(keys))
	for i, k := range keys {
		// agent.Key.Blob is the SSH wire format (same as ssh.PublicKey.Marshal())
		identities[i] = &Identity{
			Format:  k.Format,
			KeyBlob: k.Blob,
			Comment: k.Comment,
		}
	}
	return identities, nil
}

// PublicKey parses the identity's key blob.
func (id *Identity) PublicKey() (ssh.PublicKey, error) {
	return ssh.ParsePublicKey(id.KeyBlob)
}

// Sign requests the agent to sign data using the specified key.
func (c *Client) Sign(key *Identity, data []byte) (*ssh.Signature, error) {
	pubKey, err := key.PublicKey()
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}

	sig, err := c.agent.Sign(pubKey, data)
	if err != nil {
		return nil, fmt.Errorf("signing: %w", err)
	}
	return sig, nil
}

// Agent returns the underlying protocol client.
func (c *Client) Agent() agent.ExtendedAgent {
	return c.agent
}

// Close closes the connection to the SSH agent.
func (c *Client) Close() error {
	return c.conn.Close()
}
