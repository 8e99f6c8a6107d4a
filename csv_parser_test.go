package modbus

import (
	"bytes"
	"strings"
	"testing"
)

const sampleCSV = `tag,alias,slaveId,function,address,quantity,dataType,dataOrder,weight,frequency
temp1,Boiler temperature,1,3,0,2,float32,ABCD,0.1,1000
level1,Tank level,1,3,2,1,uint16,AB,1,1000
pump1,Pump running,2,1,0,1,bool,A,1,500
`

func TestParseRegisterCSV(t *testing.T) {
	registers, err := ParseRegisterCSV(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("ParseRegisterCSV failed: %v", err)
	}
	if len(registers) != 3 {
		t.Fatalf("register count: got %d, want 3", len(registers))
	}

	first := registers[0]
	if first.Tag != "temp1" || first.SlaveID != 1 || first.Function != 3 ||
		first.Address != 0 || first.Quantity != 2 || first.DataType != "float32" ||
		first.DataOrder != "ABCD" || first.Weight != 0.1 || first.Frequency != 1000 {
		t.Errorf("first register: %+v", first)
	}
	if registers[2].Function != 1 || registers[2].SlaveID != 2 {
		t.Errorf("third register: %+v", registers[2])
	}
}

func TestParseRegisterCSVErrors(t *testing.T) {
	badCases := []string{
		"tag,alias\nx,y\n", // wrong header
		"tag,alias,slaveId,function,address,quantity,dataType,dataOrder,weight,frequency\n,alias,1,3,0,1,uint16,AB,1,1000\n",  // empty tag
		"tag,alias,slaveId,function,address,quantity,dataType,dataOrder,weight,frequency\nt,a,1,9,0,1,uint16,AB,1,1000\n",     // bad function
		"tag,alias,slaveId,function,address,quantity,dataType,dataOrder,weight,frequency\nt,a,1,3,0,0,uint16,AB,1,1000\n",     // zero quantity
		"tag,alias,slaveId,function,address,quantity,dataType,dataOrder,weight,frequency\nt,a,1,3,0,1,uint16,XY,1,1000\n",     // bad order
		"tag,alias,slaveId,function,address,quantity,dataType,dataOrder,weight,frequency\nt,a,one,3,0,1,uint16,AB,1,1000\n",   // bad slave id
		"tag,alias,slaveId,function,address,quantity,dataType,dataOrder,weight,frequency\nt,a,1,3,0,1,uint16,AB,heavy,1000\n", // bad weight
	}
	for i, csvText := range badCases {
		if _, err := ParseRegisterCSV(strings.NewReader(csvText)); err == nil {
			t.Errorf("case %d: malformed CSV accepted", i)
		}
	}
}

func TestWriteRegisterCSVRoundTrip(t *testing.T) {
	registers, err := ParseRegisterCSV(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("ParseRegisterCSV failed: %v", err)
	}

	var buf bytes.Buffer
	if err := WriteRegisterCSV(&buf, registers); err != nil {
		t.Fatalf("WriteRegisterCSV failed: %v", err)
	}
	back, err := ParseRegisterCSV(&buf)
	if err != nil {
		t.Fatalf("reparse failed: %v", err)
	}
	if len(back) != len(registers) {
		t.Fatalf("round trip count: got %d, want %d", len(back), len(registers))
	}
	for i := range registers {
		if back[i].Tag != registers[i].Tag || back[i].Address != registers[i].Address ||
			back[i].Weight != registers[i].Weight {
			t.Errorf("register %d changed in round trip: %+v vs %+v", i, back[i], registers[i])
		}
	}
}
