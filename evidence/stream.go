package evidence

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"voter-oracle/common"
)

// ErrEmpty возвращается, если в потоке еще нет ни одной полной строки
var ErrEmpty = errors.New("evidence stream has no complete line")

// Reader читает текущее содержимое потока целиком
type Reader interface {
	Read() ([]byte, error)
}

// File представляет поток доказательств, записанный в обычный файл.
// Каждый вызов Read заново читает файл, ничего не кэшируется.
type File struct {
	Path string
}

// NewFile создает поток для файла path
func NewFile(path string) *File {
	return &File{Path: path}
}

// Read возвращает текущее содержимое файла. Отсутствующий файл считается пустым потоком.
func (f *File) Read() ([]byte, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", f.Path, err)
	}
	return data, nil
}

// LastCompleteLine возвращает последнюю завершенную строку потока.
// Незавершенная (дописываемая) последняя строка игнорируется.
func LastCompleteLine(content []byte) (string, error) {
	end := bytes.LastIndexByte(content, '\n')
	if end < 0 {
		return "", ErrEmpty
	}
	start := bytes.LastIndexByte(content[:end], '\n') + 1
	return strings.TrimSuffix(string(content[start:end]), "\r"), nil
}

// ParsePTT возвращает состояние передатчика по последнему байту потока ptt
func ParsePTT(content []byte) common.PTTState {
	if len(content) == 0 {
		return common.PTTUnknown
	}
	switch content[len(content)-1] {
	case 'T':
		return common.PTTOn
	case 'R':
		return common.PTTOff
	}
	return common.PTTUnknown
}

// Appender дописывает строки в поток. Один писатель на поток.
type Appender struct {
	path string
	mu   sync.Mutex
}

// NewAppender создает Appender для файла path
func NewAppender(path string) *Appender {
	return &Appender{path: path}
}

// Append дописывает одну строку одним вызовом write, чтобы читатели не видели разорванных строк
func (a *Appender) Append(line string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	file, err := os.OpenFile(a.path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", a.path, err)
	}
	defer file.Close()

	if _, err := file.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("failed to append to %s: %w", a.path, err)
	}
	return nil
}
