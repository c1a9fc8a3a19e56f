package clients

import (
	"github.com/DRSN-tech/image-gallery/internal/cfg"
	"github.com/DRSN-tech/image-gallery/pkg/e"
	"github.com/jimlawless/whereami"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// NewMLClient создаёт соединение с ML-сервисом. Подключение ленивое: ошибки сети проявятся при первом вызове.
func NewMLClient(cfg *cfg.MLServiceCfg) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(
		cfg.Addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()), // ML-сервис доступен только во внутренней сети, без TLS
	)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	return conn, nil
}
