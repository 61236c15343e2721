package Adhoc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"MarkTrackServer/logger"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

const (
	TrackingNode    = 0x2001
	CalibrationNode = 0x2002
	TimeOutSeconds  = 5
)

// StatusFunc reports the node's current pipeline state for each heartbeat.
type StatusFunc func() (arity int, state string)

type RegisterRequest struct {
	Id        string `json:"id"`
	IP        string `json:"ip"`
	Port      int    `json:"port"`
	NodeClass int    `json:"nodeClass"`
	Arity     int    `json:"arity"`
	State     string `json:"state"`
	TimeStamp int64  `json:"timestamp"`
}

type RegisterResponse struct {
	Id      string `json:"id"`
	Success bool   `json:"success"`
}

type RegServerConfig struct {
	Port int
	Addr string
}

func (reg *RegServerConfig) SetAddress(addr string, port int) {
	reg.Addr = addr
	reg.Port = port
}

var RegServerCfg RegServerConfig

// SendAliveMessage periodically registers this node with the coordination
// server until ctx is cancelled. The node id stays stable across heartbeats.
func SendAliveMessage(nodeIP string, nodePort int, nodeClass int, status StatusFunc, ctx context.Context, wg *sync.WaitGroup) {
	addr := fmt.Sprintf("%s:%d", RegServerCfg.Addr, RegServerCfg.Port)
	defer wg.Done()
	ticker := time.NewTicker(TimeOutSeconds * time.Second)
	defer ticker.Stop()
	client := resty.New().SetTimeout(TimeOutSeconds * time.Second)
	id := uuid.NewString()
	safeDoRequest := func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Log().Error(fmt.Sprintf("SendAliveMessage panic recovered: %v", r))
			}
		}()
		arity, state := 0, "unknown"
		if status != nil {
			arity, state = status()
		}
		var respBody RegisterResponse
		url := fmt.Sprintf("http://%s/api/register", addr)
		reqBody := RegisterRequest{
			Id:        id,
			IP:        nodeIP,
			Port:      nodePort,
			NodeClass: nodeClass,
			Arity:     arity,
			State:     state,
			TimeStamp: time.Now().Unix(),
		}
		resp, err := client.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(reqBody).
			SetResult(&respBody).
			Post(url)
		if err != nil {
			logger.Log().Error(fmt.Sprintf("request error: %v", err))
			return
		}
		if resp.IsError() {
			logger.Log().Error(fmt.Sprintf("server returned error: %s, body: %s", resp.Status(), resp.String()))
		}
	}
	safeDoRequest()
	for {
		select {
		case <-ctx.Done():
			logger.Log().Info("SendAliveMessage context cancelled, exiting goroutine.")
			return
		case <-ticker.C:
			safeDoRequest()
		}
	}
}
