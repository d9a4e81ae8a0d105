package msg

import (
	"fmt"
	"io"
	"net/netip"

	"github.com/energizer-project/ragol/internal/serial"
)

// Copyright banners the client expects at the head of a welcome.
const (
	LoginCopyright = "DreamCast Port Map. Copyright SEGA Enterprises. 1999"
	ShipCopyright  = "DreamCast Lobby Server. Copyright SEGA Enterprises. 1999"
)

const (
	copyrightLen    = 0x40
	afterMessageLen = 0xC0
)

// Welcome is the server greeting that seeds both stream ciphers.
// Layout: copyright ASCII[0x40], server vector u32, client vector u32,
// after-message ASCII[0xC0].
type Welcome struct {
	Copyright    string
	ServerVector uint32
	ClientVector uint32
	AfterMessage string
}

func (m Welcome) Serialize(w io.Writer) error {
	if err := serial.WriteASCII(w, m.Copyright, copyrightLen); err != nil {
		return err
	}
	if err := serial.U32.Write(w, m.ServerVector); err != nil {
		return err
	}
	if err := serial.U32.Write(w, m.ClientVector); err != nil {
		return err
	}
	return serial.WriteASCII(w, m.AfterMessage, afterMessageLen)
}

func (m *Welcome) Deserialize(r io.Reader) error {
	var err error
	if m.Copyright, err = serial.ReadASCII(r, copyrightLen); err != nil {
		return fmt.Errorf("copyright: %w", err)
	}
	if m.ServerVector, err = serial.U32.Read(r); err != nil {
		return fmt.Errorf("server vector: %w", err)
	}
	if m.ClientVector, err = serial.U32.Read(r); err != nil {
		return fmt.Errorf("client vector: %w", err)
	}
	if m.AfterMessage, err = serial.ReadASCII(r, afterMessageLen); err != nil {
		return fmt.Errorf("after message: %w", err)
	}
	return nil
}

// Redirect4 tells the client to reconnect to an IPv4 endpoint.
// Layout: address u8[4], port u16, reserved u16.
type Redirect4 struct {
	IP   [4]byte
	Port uint16
}

func (m Redirect4) Serialize(w io.Writer) error {
	return writeRedirect(w, m.IP[:], m.Port)
}

func (m *Redirect4) Deserialize(r io.Reader) error {
	return readRedirect(r, m.IP[:], &m.Port)
}

// AddrPort returns the redirect target.
func (m Redirect4) AddrPort() netip.AddrPort {
	return netip.AddrPortFrom(netip.AddrFrom4(m.IP), m.Port)
}

// Redirect6 tells the client to reconnect to an IPv6 endpoint.
// Layout: address u8[16], port u16, reserved u16.
type Redirect6 struct {
	IP   [16]byte
	Port uint16
}

func (m Redirect6) Serialize(w io.Writer) error {
	return writeRedirect(w, m.IP[:], m.Port)
}

func (m *Redirect6) Deserialize(r io.Reader) error {
	return readRedirect(r, m.IP[:], &m.Port)
}

// AddrPort returns the redirect target.
func (m Redirect6) AddrPort() netip.AddrPort {
	return netip.AddrPortFrom(netip.AddrFrom16(m.IP), m.Port)
}

// NewRedirect picks the redirect shape matching the address family.
func NewRedirect(target netip.AddrPort) Msg {
	addr := target.Addr().Unmap()
	if addr.Is4() {
		return Redirect4{IP: addr.As4(), Port: target.Port()}
	}
	return Redirect6{IP: addr.As16(), Port: target.Port()}
}

func writeRedirect(w io.Writer, ip []byte, port uint16) error {
	if err := serial.WriteArray(w, serial.U8, ip, len(ip)); err != nil {
		return err
	}
	if err := serial.U16.Write(w, port); err != nil {
		return err
	}
	return serial.U16.Write(w, 0)
}

func readRedirect(r io.Reader, ip []byte, port *uint16) error {
	addr, err := serial.ReadArray(r, serial.U8, len(ip))
	if err != nil {
		return fmt.Errorf("address: %w", err)
	}
	copy(ip, addr)
	if *port, err = serial.U16.Read(r); err != nil {
		return fmt.Errorf("port: %w", err)
	}
	if _, err = serial.U16.Read(r); err != nil {
		return fmt.Errorf("reserved: %w", err)
	}
	return nil
}

const (
	hlReservedLen  = 0x20
	hlSerialLen    = 0x10
	hlReserved2Len = 0x08
	hlLongLen      = 0x30
)

// HlCheck carries the client's license credentials.
// Layout: reserved u8[0x20], serial ASCII[0x10], access key ASCII[0x10],
// reserved u8[0x08], sub-version u32, serial2 ASCII[0x30],
// access key2 ASCII[0x30], password ASCII[0x30].
type HlCheck struct {
	Serial     string
	AccessKey  string
	SubVersion uint32
	Serial2    string
	AccessKey2 string
	Password   string
}

func (m HlCheck) Serialize(w io.Writer) error {
	if err := serial.WriteArray[uint8](w, serial.U8, nil, hlReservedLen); err != nil {
		return err
	}
	if err := serial.WriteASCII(w, m.Serial, hlSerialLen); err != nil {
		return err
	}
	if err := serial.WriteASCII(w, m.AccessKey, hlSerialLen); err != nil {
		return err
	}
	if err := serial.WriteArray[uint8](w, serial.U8, nil, hlReserved2Len); err != nil {
		return err
	}
	if err := serial.U32.Write(w, m.SubVersion); err != nil {
		return err
	}
	if err := serial.WriteASCII(w, m.Serial2, hlLongLen); err != nil {
		return err
	}
	if err := serial.WriteASCII(w, m.AccessKey2, hlLongLen); err != nil {
		return err
	}
	return serial.WriteASCII(w, m.Password, hlLongLen)
}

func (m *HlCheck) Deserialize(r io.Reader) error {
	var err error
	if _, err = serial.ReadArray(r, serial.U8, hlReservedLen); err != nil {
		return fmt.Errorf("reserved: %w", err)
	}
	if m.Serial, err = serial.ReadASCII(r, hlSerialLen); err != nil {
		return fmt.Errorf("serial: %w", err)
	}
	if m.AccessKey, err = serial.ReadASCII(r, hlSerialLen); err != nil {
		return fmt.Errorf("access key: %w", err)
	}
	if _, err = serial.ReadArray(r, serial.U8, hlReserved2Len); err != nil {
		return fmt.Errorf("reserved: %w", err)
	}
	if m.SubVersion, err = serial.U32.Read(r); err != nil {
		return fmt.Errorf("sub version: %w", err)
	}
	if m.Serial2, err = serial.ReadASCII(r, hlLongLen); err != nil {
		return fmt.Errorf("serial2: %w", err)
	}
	if m.AccessKey2, err = serial.ReadASCII(r, hlLongLen); err != nil {
		return fmt.Errorf("access key2: %w", err)
	}
	if m.Password, err = serial.ReadASCII(r, hlLongLen); err != nil {
		return fmt.Errorf("password: %w", err)
	}
	return nil
}
