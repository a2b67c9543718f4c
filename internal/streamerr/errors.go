// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package streamerr define os tipos de erro sentinela que o núcleo de
// streaming levanta e propaga (spec §7).
package streamerr

import "errors"

var (
	// ErrUnexpectedMessage marca um batch que chegou fora de sequência, ou
	// uma mensagem de controle observada num estado que a proíbe.
	// Recuperável quando encontrado durante o drain do WDRR: a mensagem
	// ofensora é descartada e o path continua de pé.
	ErrUnexpectedMessage = errors.New("streamcore: unexpected message")

	// ErrInvalidStreamState marca uma transição de path proibida por sua
	// máquina de estados (ex.: emitir um batch num path outbound pending).
	ErrInvalidStreamState = errors.New("streamcore: invalid stream state")

	// ErrRuntime marca um peer inalcançável ou terminado sem enviar
	// drop/close.
	ErrRuntime = errors.New("streamcore: runtime error")
)

// Reason é um valor de erro fornecido pelo usuário ou por um aborter,
// anexado a uma mensagem forced_close/forced_drop.
type Reason = error
