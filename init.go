// go-sdspi
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-sdspi.
//
// go-sdspi is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-sdspi is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-sdspi; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

package sdspi

import (
	"context"
	"errors"
	"fmt"

	"github.com/ZaparooProject/go-sdspi/internal/frame"
	"github.com/ZaparooProject/go-sdspi/internal/poll"
)

// errNotSDCard is returned internally when ACMD41 is illegal on a version 1
// card, which means the card is an MMC
var errNotSDCard = errors.New("card does not accept ACMD41")

// Init initializes the card
func (d *Device) Init() error {
	return d.InitContext(context.Background())
}

// InitContext runs the full power-up sequence: reset into SPI mode, detect
// the card generation, wait for the card to leave idle, and fix the
// addressing mode and block length. It always starts from the top, so it
// can be called again from any state. The context is only checked between
// complete command exchanges.
func (d *Device) InitContext(ctx context.Context) error {
	d.transition(StateUninitialized)
	d.info = CardInfo{}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before initialization: %w", err)
	}

	if err := d.setSpeed(InitClockHz); err != nil {
		d.transition(StateError)
		return fmt.Errorf("failed to set initialization clock: %w", err)
	}

	info, err := d.runInit(ctx)
	if err != nil {
		d.transition(StateError)
		return fmt.Errorf("failed to initialize card: %w", err)
	}

	d.info = info
	d.transition(StateReady)
	debugf("card ready: type=%s ocr=0x%08X sectors=%d", info.Type, info.OCR, info.SectorCount)

	if d.config.DataSpeed > 0 {
		if err := d.setSpeed(d.config.DataSpeed); err != nil {
			warnf("keeping initialization clock: %v", err)
		}
	}
	return nil
}

func (d *Device) runInit(ctx context.Context) (info CardInfo, err error) {
	if err := d.powerUp(); err != nil {
		return info, err
	}

	if err := d.selectCard(); err != nil {
		return info, err
	}
	defer d.release(&err)

	if err := d.reset(ctx); err != nil {
		return info, err
	}
	d.transition(StateIdle)

	cardType, err := d.checkInterface()
	if err != nil {
		return info, err
	}

	cardType, err = d.waitReady(ctx, cardType)
	if err != nil {
		return info, err
	}

	if cardType == CardTypeSDv2 {
		ocr, ocrErr := d.readOCR()
		if ocrErr != nil {
			return info, ocrErr
		}
		info.OCR = ocr
		if ocr&ocrCCS != 0 {
			cardType = CardTypeSDHC
		}
	}
	info.Type = cardType

	if !cardType.BlockAddressed() {
		if err := d.expectReady("init", cmdSetBlockLen, SectorSize, false); err != nil {
			return info, err
		}
	}

	if d.config.CRCCheck {
		if err := d.expectReady("init", cmdCRCOnOff, argCRCEnabled, false); err != nil {
			return info, err
		}
	}

	if d.config.ReadCSD {
		if csd, csdErr := d.readCSD("init", cardType); csdErr != nil {
			warnf("capacity unknown, CSD read failed: %v", csdErr)
		} else {
			info.CSD = csd
			info.SectorCount = csd.SectorCount
		}
	}

	return info, nil
}

// powerUp clocks the card with chip-select released so it can reach its
// operating voltage and accept the reset command
func (d *Device) powerUp() error {
	if err := d.bus.Select(false); err != nil {
		return d.busError("deselect", err)
	}
	for i := 0; i < d.config.PowerUpClocks; i++ {
		if _, err := d.fill(); err != nil {
			return err
		}
	}
	return nil
}

// reset sends CMD0 until the card reports the idle state
func (d *Device) reset(ctx context.Context) error {
	budget := poll.Budget{
		Description: "reset",
		Attempts:    d.config.ResetAttempts,
		OnAttempt: func() error {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("context cancelled during reset: %w", err)
			}
			return d.resetGap()
		},
	}

	res, err := poll.Until(budget, func() (byte, bool, error) {
		r1, err := d.sendCommand("init", cmdGoIdleState, 0)
		if errors.Is(err, ErrProtocolTimeout) {
			return r1, false, nil
		}
		if err != nil {
			return r1, false, err
		}
		if r1&frame.R1ErrorMask != 0 {
			return r1, false, newRejectedError("init", cmdGoIdleState, r1)
		}
		return r1, r1 == frame.R1Idle, nil
	})
	if errors.Is(err, poll.ErrExhausted) {
		return &PollError{
			Op:       "init",
			Phase:    "waiting for idle state",
			Attempts: res.Attempts,
			Last:     res.Value,
			Err:      ErrProtocolTimeout,
		}
	}
	return err
}

// resetGap releases the card and clocks two fill bytes between reset
// attempts, so a card stuck mid-transfer drops its state
func (d *Device) resetGap() error {
	if err := d.bus.Select(false); err != nil {
		return d.busError("deselect", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := d.fill(); err != nil {
			return err
		}
	}
	return d.selectCard()
}

// checkInterface sends CMD8. Version 1 cards and MMCs reject it as illegal;
// version 2 cards echo the check pattern and accepted voltage range.
func (d *Device) checkInterface() (CardType, error) {
	r1, err := d.sendCommand("init", cmdSendIfCond, argIfCond)
	if err != nil {
		return CardTypeUnknown, err
	}
	if r1&frame.R1IllegalCmd != 0 {
		debugln("CMD8 illegal, version 1 card")
		return CardTypeSDv1, nil
	}
	if r1&frame.R1ErrorMask != 0 {
		return CardTypeUnknown, newRejectedError("init", cmdSendIfCond, r1)
	}

	r7, err := d.readTrailer(trailerLengthR3R7)
	if err != nil {
		return CardTypeUnknown, err
	}
	if r7[2]&0x0F != ifCondVoltage27to36V || r7[3] != ifCondCheckPattern {
		return CardTypeUnknown, fmt.Errorf("%w: CMD8 echo % X", ErrUnsupportedCard, r7)
	}
	return CardTypeSDv2, nil
}

// waitReady repeats the operating-condition command until the card leaves
// the idle state. SD cards use ACMD41; a version 1 card that rejects ACMD41
// is an MMC and is initialized with CMD1 instead.
func (d *Device) waitReady(ctx context.Context, cardType CardType) (CardType, error) {
	var arg uint32
	if cardType == CardTypeSDv2 {
		arg = argHostHCS
	}

	err := d.opCondLoop(ctx, "SD", acmdSDSendOpCond, func() (byte, error) {
		r1, err := d.sendAppCommand("init", acmdSDSendOpCond, arg)
		if err == nil && cardType == CardTypeSDv1 && r1&frame.R1IllegalCmd != 0 {
			return r1, errNotSDCard
		}
		return r1, err
	})
	if !errors.Is(err, errNotSDCard) {
		return cardType, err
	}

	debugln("ACMD41 illegal, trying MMC initialization")
	err = d.opCondLoop(ctx, "MMC", cmdSendOpCond, func() (byte, error) {
		return d.sendCommand("init", cmdSendOpCond, 0)
	})
	return CardTypeMMC, err
}

func (d *Device) opCondLoop(ctx context.Context, name string, cmd byte, send func() (byte, error)) error {
	budget := poll.Budget{
		Description: name + " op cond",
		Attempts:    d.config.OpCondAttempts,
		OnAttempt: func() error {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("context cancelled while waiting for card: %w", err)
			}
			return nil
		},
	}

	res, err := poll.Until(budget, func() (byte, bool, error) {
		r1, err := send()
		if err != nil {
			return r1, false, err
		}
		if r1&frame.R1ErrorMask != 0 {
			return r1, false, newRejectedError("init", cmd, r1)
		}
		return r1, r1 == 0, nil
	})
	if errors.Is(err, poll.ErrExhausted) {
		return &PollError{
			Op:       "init",
			Phase:    "waiting for " + name + " card ready",
			Attempts: res.Attempts,
			Last:     res.Value,
			Err:      ErrInitTimeout,
		}
	}
	if err != nil {
		return err
	}
	debugf("%s card left idle after %d attempts", name, res.Attempts)
	return nil
}

// readOCR reads the operation conditions register with CMD58
func (d *Device) readOCR() (uint32, error) {
	r1, err := d.sendCommand("init", cmdReadOCR, 0)
	if err != nil {
		return 0, err
	}
	if r1&frame.R1ErrorMask != 0 {
		return 0, newRejectedError("init", cmdReadOCR, r1)
	}
	r3, err := d.readTrailer(trailerLengthR3R7)
	if err != nil {
		return 0, err
	}
	ocr := uint32(r3[0])<<24 | uint32(r3[1])<<16 | uint32(r3[2])<<8 | uint32(r3[3])
	if ocr&ocrPowerUpDone == 0 {
		return ocr, fmt.Errorf("%w: OCR 0x%08X reports power-up not complete", ErrUnsupportedCard, ocr)
	}
	return ocr, nil
}

// setSpeed changes the bus clock when the bus supports it
func (d *Device) setSpeed(hz int64) error {
	setter, ok := d.bus.(SpeedSetter)
	if !ok {
		return nil
	}
	if err := setter.SetSpeed(hz); err != nil {
		return d.busError("set speed", err)
	}
	return nil
}
