package domain

import "errors"

var (
	// ErrInvalidTimestamp возвращается для ts, который нельзя разобрать как число секунд.
	ErrInvalidTimestamp = errors.New("некорректная метка времени")
	// ErrRemoteAPI оборачивает ошибки источника истории: синхронизация канала прерывается.
	ErrRemoteAPI = errors.New("ошибка удалённого API истории")
)
