package util

import (
	"encoding/json"
)

// EncoderDecoder serializes values stored by the persistence layer.
type EncoderDecoder[T any] interface {
	Encode(value T) ([]byte, error)
	Decode(data []byte) (*T, error)
}

type JsonEncDec[T any] struct{}

var _ EncoderDecoder[any] = new(JsonEncDec[any])

func NewJsonEncoderDecoder[T any]() *JsonEncDec[T] {
	return &JsonEncDec[T]{}
}

func (JsonEncDec[T]) Encode(value T) ([]byte, error) {
	return json.Marshal(value)
}

func (JsonEncDec[T]) Decode(data []byte) (*T, error) {
	res := new(T)
	if err := json.Unmarshal(data, res); err != nil {
		return nil, err
	}
	return res, nil
}
