package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

var maxSensors int = 2000
var httpHostPort string = "127.0.0.1:2080"

var sensorTypes = []string{"seaLevel", "windSpeed", "waveHeight", "temperature"}
var locations = []string{"Marina Bay", "Sunrise Point", "Harbor East", "Fisherman Cove"}

var rnd *rand.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))

func main() {
	sensorIDs := make([]string, maxSensors)
	for i := 0; i < maxSensors; i++ {
		sensorIDs[i] = uuid.NewString()
	}
	fmt.Printf("generated %v sensor IDs\n", maxSensors)

	resp, err := http.Get(fmt.Sprintf("http://%s/healthz", httpHostPort))
	if err != nil {
		log.Fatal("Failed to connect to HTTP server:", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Fatal("HTTP server not available")
	}

	fmt.Printf("http server verified\n")

	var startTime time.Time
	var usedTime time.Duration

	startTime = time.Now()
	wg := sync.WaitGroup{}
	for i := 0; i < maxSensors; i++ {
		i := i
		wg.Add(1)
		go func() {
			postReading(sensorIDs[i], i)
			fmt.Printf("\rposted reading for sensor %v", i)
			wg.Done()
		}()
	}
	wg.Wait()
	usedTime = time.Since(startTime)

	fmt.Printf(
		"\rposted readings for %v sensors: used time=%v seconds, throughput=%v action/second\n",
		maxSensors, usedTime.Seconds(), float64(maxSensors)/usedTime.Seconds(),
	)

	startTime = time.Now()
	wg = sync.WaitGroup{}
	for i := 0; i < maxSensors; i++ {
		i := i
		wg.Add(1)
		go func() {
			doAction(sensorIDs[i], i)
			wg.Done()
		}()
	}
	wg.Wait()
	usedTime = time.Since(startTime)

	fmt.Printf(
		"\n\rdid actions for %v sensors: used time=%v seconds, throughput=%v action/second\n",
		maxSensors, usedTime.Seconds(), float64(maxSensors*2)/usedTime.Seconds(),
	)
}

func rndFloat64(min, max float64, decimal int) float64 {
	val := min + rnd.Float64()*(max-min)
	multiplier := float64(math.Pow10(decimal))
	return float64(math.Round(float64(val)*float64(multiplier))) / multiplier
}

func postReading(sensorID string, i int) {
	payload := map[string]any{
		"sensor_type":   sensorTypes[i%len(sensorTypes)],
		"value":         rndFloat64(0.0, 10.0, 2),
		"observed_at":   time.Now().Format(time.RFC3339),
		"location_name": locations[i%len(locations)],
	}

	jsonData, _ := json.Marshal(payload)
	resp, err := http.Post(fmt.Sprintf("http://%s/sensors/%s/readings", httpHostPort, sensorID), "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		fmt.Printf("\nerror: %v\n", err)
		return
	}
	defer resp.Body.Close()
}

func doAction(sensorID string, i int) {
	actions := []func(){
		func() { postReading(sensorID, i) },
		func() { getAlerts() },
	}
	actionNames := []string{
		"PostReading",
		"GetAlerts",
	}
	rnd.Shuffle(len(actions), func(i, j int) {
		actions[i], actions[j] = actions[j], actions[i]
		actionNames[i], actionNames[j] = actionNames[j], actionNames[i]
	})
	for index, action := range actions {
		action()
		fmt.Printf("\rexecuted action %v for sensor %v", actionNames[index], sensorID)
		time.Sleep(time.Duration(100+rnd.Int31n(1000)) * time.Millisecond)
	}
}

func getAlerts() {
	resp, err := http.Get(fmt.Sprintf("http://%s/alerts?status=active", httpHostPort))
	if err != nil {
		fmt.Printf("\nerror: %v\n", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		fmt.Printf("\nresponse status code != 200: %v\n", resp)
	}
}
