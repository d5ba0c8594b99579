//go:build !unix

package rtltcp

func (c *Client) recv(p []byte) (int, error) {
	return pollRead(c.conn, p)
}
