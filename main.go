package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"sync"
	"syscall"

	adhoc "MarkTrackServer/Adhoc"
	"MarkTrackServer/app"
	"MarkTrackServer/capture"
	iface "MarkTrackServer/interface"
	"MarkTrackServer/logger"
	"MarkTrackServer/monitor"
	"MarkTrackServer/pipeline"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"gopkg.in/yaml.v3"
)

type configStruct struct {
	HTTPPort      int              `yaml:"HTTPPort"`
	AdhocPort     int              `yaml:"AdhocPort"`
	LogMode       string           `yaml:"logMode"`
	LogLevel      string           `yaml:"logLevel"`
	SingleThread  bool             `yaml:"singleThread"`
	NodeClass     string           `yaml:"nodeClass"`
	UseRegServer  bool             `yaml:"UseRegServer"`
	RegServerPort int              `yaml:"RegServerPort"`
	RegServerHost string           `yaml:"RegServerHost"`
	Tracking      iface.Parameters `yaml:"tracking"`
}

type assembleRequest struct {
	Devices  []int  `json:"devices"`
	Strategy string `json:"strategy"`
}

type startRequest struct {
	CalibrationOnly bool `json:"calibrationOnly"`
}

type markRequest struct {
	Camera  int     `json:"camera"`
	MarkID  int     `json:"markId"`
	Type    string  `json:"type"`
	CenterX float32 `json:"centerX"`
	CenterY float32 `json:"centerY"`
	Radius  float32 `json:"radius"`
	Width   float32 `json:"width"`
	Height  float32 `json:"height"`
}

func (r markRequest) toMark() (iface.Mark, error) {
	mark := iface.Mark{
		Center: iface.Position{X: r.CenterX, Y: r.CenterY},
		Radius: r.Radius,
		Width:  r.Width,
		Height: r.Height,
	}
	switch r.Type {
	case "circle", "":
		mark.Type = iface.MarkCircle
		if mark.Radius <= 0 {
			return mark, fmt.Errorf("circle mark needs a positive radius")
		}
	case "rectangle":
		mark.Type = iface.MarkRectangle
		if mark.Width <= 0 || mark.Height <= 0 {
			return mark, fmt.Errorf("rectangle mark needs positive width and height")
		}
	default:
		return mark, fmt.Errorf("unknown mark type %q", r.Type)
	}
	return mark, nil
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func GetOutboundIP() (string, error) {
	// 8.8.8.8 is only used to resolve the routing path, no packets are sent
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)

	return localAddr.IP.String(), nil
}

func setupRouter(application *app.Application) *gin.Engine {
	r := gin.Default()
	r.GET("/api/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	r.POST("/api/cameras/discover", func(c *gin.Context) {
		devices := application.DiscoverSources()
		c.JSON(http.StatusOK, gin.H{"data": devices})
	})
	r.POST("/api/pipeline/assemble", func(c *gin.Context) {
		var req assembleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := application.AssemblePipeline(req.Devices, req.Strategy); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": gin.H{"arity": application.Arity()}})
	})
	r.POST("/api/pipeline/start", func(c *gin.Context) {
		var req startRequest
		if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := application.StartPipeline(req.CalibrationOnly); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": "started"})
	})
	r.POST("/api/pipeline/step", func(c *gin.Context) {
		if err := application.Step(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": "stepped"})
	})
	r.POST("/api/pipeline/teardown", func(c *gin.Context) {
		application.TeardownPipeline()
		c.JSON(http.StatusOK, gin.H{"data": "torn down"})
	})
	r.GET("/api/pipeline/status", func(c *gin.Context) {
		_, calibrated := application.CalibrationData()
		c.JSON(http.StatusOK, gin.H{"data": gin.H{
			"state":      app.StateName(application.State()),
			"arity":      application.Arity(),
			"calibrated": calibrated,
		}})
	})
	r.POST("/api/pipeline/mark", func(c *gin.Context) {
		var req markRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		mark, err := req.toMark()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := application.SetMark(req.Camera, req.MarkID, mark); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": "mark set"})
	})
	r.POST("/api/calibration/apply", func(c *gin.Context) {
		var data iface.CalibrationData
		if err := c.ShouldBindJSON(&data); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := application.ApplyCalibrationData(data); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": "calibration applied"})
	})
	r.GET("/api/calibration", func(c *gin.Context) {
		data, ok := application.CalibrationData()
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "no calibration data"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": data})
	})
	r.GET("/ws/stream", func(c *gin.Context) {
		converter := application.Converter()
		if converter == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "no pipeline assembled"})
			return
		}
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		clientID := uuid.NewString()
		packets := make(chan pipeline.DisplayPacket, 4)
		converter.RegisterClient(clientID, packets)
		logger.S().Infof("stream client %s connected", clientID)

		go func() {
			for packet := range packets {
				if err := conn.WriteJSON(packet); err != nil {
					return
				}
			}
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "pipeline gone"))
			_ = conn.Close()
		}()

		for {
			var req markRequest
			if err := conn.ReadJSON(&req); err != nil {
				converter.UnregisterClient(clientID)
				logger.S().Infof("stream client %s disconnected: %v", clientID, err)
				_ = conn.Close()
				return
			}
			mark, err := req.toMark()
			if err != nil {
				_ = conn.WriteJSON(gin.H{"error": err.Error()})
				continue
			}
			converter.CreateMark(pipeline.MarkSeed{
				CameraIndex: req.Camera,
				MarkID:      req.MarkID,
				Mark:        mark,
			})
		}
	})
	return r
}

func main() {
	ip, err := GetOutboundIP()
	if err != nil {
		fmt.Println("Failed to get outbound IP:", err)
		return
	} else {
		fmt.Println("Outbound IP:", ip)
	}
	var wg sync.WaitGroup
	fmt.Println(strings.Repeat("#", 64))
	CPUNum := runtime.NumCPU()
	runtime.GOMAXPROCS(CPUNum)
	fmt.Printf("CPU Cores: %d\n", CPUNum)
	configData, err := os.ReadFile("config.yaml")
	if err != nil {
		fmt.Println("Failed to read config file:", err)
		return
	}
	config := configStruct{Tracking: iface.DefaultParameters()}
	err = yaml.Unmarshal(configData, &config)
	if err != nil {
		fmt.Println("Failed to parse config file:", err)
		return
	}
	if err := logger.Init(config.LogMode, config.LogLevel); err != nil {
		fmt.Println("Failed to init logger:", err)
		return
	}
	fmt.Println(" HTTP  Port:", config.HTTPPort)
	fmt.Println(" Adhoc Port:", config.AdhocPort)
	fmt.Println("Configured Max Arity:", config.Tracking.MaxArity)
	fmt.Println(strings.Repeat("#", 64))
	fmt.Println("")
	if config.Tracking.MaxArity <= 0 {
		config.Tracking.MaxArity = 1
		fmt.Println(strings.Repeat("!", 64))
		fmt.Println("Invalid maxArity in config, defaulting to 1")
		fmt.Println(strings.Repeat("!", 64))
	} else if config.Tracking.MaxArity > CPUNum {
		fmt.Println(strings.Repeat("!", 64))
		fmt.Println("Please noted that maxArity exceeds CPU cores, which may lead to dropped frames.")
		fmt.Println(strings.Repeat("!", 64))
	}
	fmt.Println("")

	var nodeClass int
	switch config.NodeClass {
	case "Tracking":
		nodeClass = adhoc.TrackingNode
	case "Calibration":
		nodeClass = adhoc.CalibrationNode
	default:
		fmt.Println("Invalid nodeClass in config, defaulting to Tracking")
		nodeClass = adhoc.TrackingNode
	}
	adhoc.RegServerCfg = adhoc.RegServerConfig{}
	adhoc.RegServerCfg.SetAddress(config.RegServerHost, config.RegServerPort)

	application := app.New(config.Tracking, capture.OpenCamera, config.SingleThread)

	ctx, cancel := context.WithCancel(context.Background())
	wg.Add(1)
	if config.UseRegServer {
		status := func() (int, string) {
			return application.Arity(), app.StateName(application.State())
		}
		go adhoc.SendAliveMessage(ip, config.HTTPPort, nodeClass, status, ctx, &wg)
	} else {
		fmt.Println("UseRegServer is set to false, skipping registration")
		wg.Done()
	}
	go monitor.StartMon(config.AdhocPort, ctx)

	r := setupRouter(application)
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.HTTPPort),
		Handler: r,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.S().Errorf("http server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	fmt.Println("Shutting down")
	cancel()
	_ = srv.Shutdown(context.Background())
	application.Close()
	logger.Sync()
	fmt.Println("Done")
	wg.Wait()
	fmt.Println("Safely exited")
}
