// Package containers starts throwaway Docker dependencies for integration
// tests: a MySQL 8 server for the document store and a Mosquitto broker for
// the MQTT transport.
//
// Tests using it carry the "integration" build tag and usually share one
// container per package from TestMain:
//
//	var broker *containers.MosquittoContainer
//
//	func TestMain(m *testing.M) {
//	    var err error
//	    broker, err = containers.NewMosquittoContainer(context.Background(), nil)
//	    if err != nil {
//	        panic(err)
//	    }
//	    code := m.Run()
//	    _ = broker.Terminate(context.Background())
//	    os.Exit(code)
//	}
//
// Run them with:
//
//	go test -tags=integration ./...
package containers
