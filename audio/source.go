package audio

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

var logger = log.New(os.Stdout, "[Audio-Source] ", log.LstdFlags|log.Lshortfile)

// FrameBytes задает размер одного стерео фрейма: 2 канала по 16 бит
const FrameBytes = 4

// Config представляет конфигурацию UDP источника аудио
type Config struct {
	ListenAddr  string        `mapstructure:"listen_addr"`  // Адрес, на который svxlink шлет сырое аудио
	ReadTimeout time.Duration `mapstructure:"read_timeout"` // Таймаут на сбор одного окна
	WindowSize  int           `mapstructure:"-"`            // Размер окна во фреймах, берется из конфигурации тона
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		ListenAddr:  "127.0.0.1:10000",
		ReadTimeout: 2 * time.Second,
		WindowSize:  1024,
	}
}

// UDPSource читает окно аудио из UDP. Сокет открывается заново на каждое окно,
// поэтому накопившиеся в ядре старые данные отбрасываются и результат не отстает от реального времени.
type UDPSource struct {
	config Config
}

// NewUDPSource создает источник
func NewUDPSource(config Config) *UDPSource {
	return &UDPSource{config: config}
}

// ReadWindow собирает ровно одно окно (WindowSize фреймов) из свежего сокета.
// Если к таймауту пришла только часть окна, возвращается то, что есть.
func (s *UDPSource) ReadWindow() ([]byte, error) {
	lc := net.ListenConfig{Control: reuseAddr}
	conn, err := lc.ListenPacket(context.Background(), "udp", s.config.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind %s: %w", s.config.ListenAddr, err)
	}
	defer conn.Close()

	if err := conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout)); err != nil {
		return nil, fmt.Errorf("failed to set read deadline: %w", err)
	}

	want := s.config.WindowSize * FrameBytes
	window := make([]byte, 0, want)
	buf := make([]byte, 65536)
	for len(window) < want {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() && len(window) >= FrameBytes {
				logger.Printf("Read timeout with partial window: %d of %d bytes", len(window), want)
				return window, nil
			}
			return nil, fmt.Errorf("failed to read from %s: %w", s.config.ListenAddr, err)
		}
		// Хвост датаграммы короче фрейма отбрасывается, чтобы не сдвигать выравнивание следующих
		n -= n % FrameBytes
		window = append(window, buf[:min(n, want-len(window))]...)
	}
	return window, nil
}

// reuseAddr разрешает повторный bind того же порта сразу после закрытия предыдущего сокета
func reuseAddr(network, address string, c syscall.RawConn) error {
	var sockErr error
	if err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	}); err != nil {
		return err
	}
	return sockErr
}
