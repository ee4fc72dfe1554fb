package control

import (
	"fmt"

	"voter-oracle/common"
)

// Facade описывает управляющие команды внешней системы (вотер и remote приемники)
type Facade interface {
	Start() error
	Stop() error
	SetSquelch(channel string, open bool) error
	Enable(channel string) error
	Disable(channel string) error
	Mute(channel string) error
	StartSideProcesses() error
}

// Команды в сообщениях управления
const (
	VerbStart         = "start"
	VerbStop          = "stop"
	VerbSquelch       = "squelch"
	VerbEnable        = "enable"
	VerbDisable       = "disable"
	VerbMute          = "mute"
	VerbSideProcesses = "side_processes"
)

// Dispatch выполняет команду cmd через facade
func Dispatch(facade Facade, cmd common.CommandMessage) error {
	needsChannel := func() error {
		if cmd.Channel == "" {
			return fmt.Errorf("command %s requires a channel", cmd.Verb)
		}
		return nil
	}

	switch cmd.Verb {
	case VerbStart:
		return facade.Start()
	case VerbStop:
		return facade.Stop()
	case VerbSideProcesses:
		return facade.StartSideProcesses()
	case VerbSquelch:
		if err := needsChannel(); err != nil {
			return err
		}
		return facade.SetSquelch(cmd.Channel, cmd.Open)
	case VerbEnable:
		if err := needsChannel(); err != nil {
			return err
		}
		return facade.Enable(cmd.Channel)
	case VerbDisable:
		if err := needsChannel(); err != nil {
			return err
		}
		return facade.Disable(cmd.Channel)
	case VerbMute:
		if err := needsChannel(); err != nil {
			return err
		}
		return facade.Mute(cmd.Channel)
	}
	return fmt.Errorf("unsupported command: %q", cmd.Verb)
}
