package udp

// Datagram carries one UDP payload plus its addressing metadata. It is the
// unit of exchange between an application and an Endpoint in both
// directions.
//
// A Datagram received from the Worker owns a buffer drawn from the
// configured datagrampool.Pool; callers that keep a Datagram beyond the
// scope of their receive callback should copy Buffer rather than retain it,
// since the backing storage may be recycled once the callback returns.
type Datagram struct {
	// Buffer holds the payload. Length bytes of it are valid; the slice may
	// have spare capacity borrowed from a pool.
	Buffer []byte

	// Length is the number of valid bytes in Buffer.
	Length int

	// SourceAddress/SourcePort identify where a received datagram came
	// from, or are ignored on send.
	SourceAddress string
	SourcePort    uint16

	// DestinationAddress/DestinationPort identify where a datagram is
	// addressed to: the send target on outbound datagrams, the local
	// socket's address on received ones.
	DestinationAddress string
	DestinationPort    uint16

	// HopLimit is the IP TTL (IPv4) / hop limit (IPv6). On send, zero means
	// "use the OS default" for unicast, or the fallback multicast TTL (8)
	// for multicast. On receive it is always zero: the receive path does
	// not read the hop limit the packet arrived with.
	HopLimit uint8
}

// NewDatagram allocates a Datagram with a Buffer of length n.
func NewDatagram(n int) *Datagram {
	d := &Datagram{}
	d.Resize(n)
	return d
}

// Reset clears addressing metadata and zero-lengths the buffer without
// releasing its capacity.
func (d *Datagram) Reset() {
	d.Length = 0
	d.SourceAddress = ""
	d.SourcePort = 0
	d.DestinationAddress = ""
	d.DestinationPort = 0
	d.HopLimit = 0
}

// Resize clears the Datagram like Reset and ensures Buffer has capacity for
// at least n bytes, reusing existing capacity when possible. Length is set
// to n, mirroring the original RecycledDatagram::reset(length) contract.
func (d *Datagram) Resize(n int) {
	d.Reset()
	if cap(d.Buffer) < n {
		d.Buffer = make([]byte, n)
	} else {
		d.Buffer = d.Buffer[:n]
	}
	d.Length = n
}

// Payload returns the valid portion of Buffer.
func (d *Datagram) Payload() []byte {
	return d.Buffer[:d.Length]
}
