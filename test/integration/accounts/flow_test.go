// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package accounts_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/holomush/accounts/internal/httpapi"
)

func call(method, path string, body any, headers map[string]string) (int, map[string]any) {
	var rdr *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		Expect(err).NotTo(HaveOccurred())
		rdr = bytes.NewReader(raw)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(env.ctx, method, env.server.URL+path, rdr)
	Expect(err).NotTo(HaveOccurred())
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := env.server.Client().Do(req)
	Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()

	var out map[string]any
	Expect(json.NewDecoder(resp.Body).Decode(&out)).To(Succeed())
	return resp.StatusCode, out
}

func register(username, password, email string) (int, map[string]any) {
	return call(http.MethodPost, "/register", map[string]string{
		"username": username, "password": password, "email": email,
	}, nil)
}

var _ = Describe("Account flow", func() {
	BeforeEach(func() {
		cleanupDatabase(env.ctx, env.pool)
	})

	It("registers, logs in and reads the profile back", func() {
		code, body := register("alice", "hunter22", "Alice@Example.com")
		Expect(code).To(Equal(http.StatusCreated))
		user := body["user"].(map[string]any)
		Expect(user["email"]).To(Equal("Alice@Example.com"))
		id := user["id"]

		code, body = call(http.MethodPost, "/login", map[string]string{"username": "alice", "password": "hunter22"}, nil)
		Expect(code).To(Equal(http.StatusOK))
		token := body["token"].(string)
		Expect(body["username"]).To(Equal("alice"))

		code, body = call(http.MethodPost, "/getuser", nil, map[string]string{"Authorization": "Bearer " + token})
		Expect(code).To(Equal(http.StatusOK))
		Expect(body["id"]).To(Equal(id))
		Expect(body["createdAt"]).NotTo(BeEmpty())
		Expect(body).NotTo(HaveKey("passwordHash"))

		code, body = call(http.MethodGet, "/getusername?username=alice", nil, nil)
		Expect(code).To(Equal(http.StatusOK))
		Expect(body["message"]).To(Equal(httpapi.MsgUserFound))
	})

	It("stores only the argon2id hash", func() {
		code, _ := register("bob", "plaintext-pw", "bob@example.com")
		Expect(code).To(Equal(http.StatusCreated))

		var hash string
		Expect(env.pool.QueryRow(env.ctx, "SELECT password_hash FROM users WHERE username = 'bob'").Scan(&hash)).To(Succeed())
		Expect(hash).To(HavePrefix("$argon2id$"))
		Expect(hash).NotTo(ContainSubstring("plaintext-pw"))
	})

	It("rejects duplicates by username and by email", func() {
		code, _ := register("carol", "hunter22", "carol@example.com")
		Expect(code).To(Equal(http.StatusCreated))

		code, body := register("carol", "hunter22", "other@example.com")
		Expect(code).To(Equal(http.StatusBadRequest))
		Expect(body["error"]).To(Equal(httpapi.MsgDuplicate))

		code, body = register("carol2", "hunter22", "carol@example.com")
		Expect(code).To(Equal(http.StatusBadRequest))
		Expect(body["error"]).To(Equal(httpapi.MsgDuplicate))
	})

	It("lets exactly one of many concurrent registrations win", func() {
		const racers = 8
		codes := make([]int, racers)
		var wg sync.WaitGroup
		for i := range racers {
			wg.Add(1)
			go func(i int) {
				defer GinkgoRecover()
				defer wg.Done()
				codes[i], _ = register("dave", "hunter22", fmt.Sprintf("dave%d@example.com", i))
			}(i)
		}
		wg.Wait()

		created := 0
		for _, c := range codes {
			if c == http.StatusCreated {
				created++
			} else {
				Expect(c).To(Equal(http.StatusBadRequest))
			}
		}
		Expect(created).To(Equal(1))

		var n int
		Expect(env.pool.QueryRow(env.ctx, "SELECT count(*) FROM users WHERE username = 'dave'").Scan(&n)).To(Succeed())
		Expect(n).To(Equal(1))
	})

	It("treats unknown users and wrong passwords alike", func() {
		register("erin", "hunter22", "erin@example.com")

		code1, body1 := call(http.MethodPost, "/login", map[string]string{"username": "erin", "password": "nope-nope"}, nil)
		code2, body2 := call(http.MethodPost, "/login", map[string]string{"username": "nobody", "password": "hunter22"}, nil)
		Expect(code1).To(Equal(http.StatusBadRequest))
		Expect(code2).To(Equal(code1))
		Expect(body2).To(Equal(body1))
	})

	It("counts successful registrations", func() {
		before := testutil.ToFloat64(env.metrics.RegistrationsTotal.WithLabelValues("success"))
		register("frank", "hunter22", "frank@example.com")
		Expect(testutil.ToFloat64(env.metrics.RegistrationsTotal.WithLabelValues("success"))).To(Equal(before + 1))
	})
})
