package bleserial

// writeRequest sends an acknowledged write through the platform stack.
func (c *tinyGoCharacteristic) writeRequest(data []byte) error {
	_, err := c.char.Write(data)
	return err
}
